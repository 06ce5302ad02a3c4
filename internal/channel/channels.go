package channel

import (
	"context"
	"sync"
	"time"

	"rqbridge/logger"
	"rqbridge/models"
)

type Stats struct {
	TicksSent        int64
	TicksDropped     int64
	ContractsSent    int64
	ContractsDropped int64
}

// Channels carries gateway events to the host platform. Sends never
// block: a full buffer drops the event and counts it.
type Channels struct {
	Ticks     chan models.TickData
	Contracts chan models.ContractData

	stats               Stats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(tickBufferSize, contractBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Ticks:     make(chan models.TickData, tickBufferSize),
		Contracts: make(chan models.ContractData, contractBufferSize),
		log:       log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"tick_buffer_size":     tickBufferSize,
		"contract_buffer_size": contractBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) SendTick(tick models.TickData) bool {
	select {
	case c.Ticks <- tick:
		c.statsMutex.Lock()
		c.stats.TicksSent++
		c.statsMutex.Unlock()
		return true
	default:
		c.statsMutex.Lock()
		c.stats.TicksDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) SendContract(contract models.ContractData) bool {
	select {
	case c.Contracts <- contract:
		c.statsMutex.Lock()
		c.stats.ContractsSent++
		c.statsMutex.Unlock()
		return true
	default:
		c.statsMutex.Lock()
		c.stats.ContractsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"ticks_sent":           stats.TicksSent,
		"ticks_dropped":        stats.TicksDropped,
		"contracts_sent":       stats.ContractsSent,
		"contracts_dropped":    stats.ContractsDropped,
		"tick_channel_len":     len(c.Ticks),
		"tick_channel_cap":     cap(c.Ticks),
		"contract_channel_len": len(c.Contracts),
		"contract_channel_cap": cap(c.Contracts),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.Ticks)
	close(c.Contracts)

	c.log.WithComponent("channels").Info("all channels closed")
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
