package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
)

func TestConfigureRejectsBadInput(t *testing.T) {
	log := Logger()

	if err := log.Configure("nope", "json", "stdout", 0); err == nil {
		t.Error("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Error("expected error for invalid format")
	}
	if err := log.Configure("debug", "text", "stderr", 0); err != nil {
		t.Errorf("valid configuration rejected: %v", err)
	}
}

func TestWithComponentCarriesField(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("gateway").WithFields(Fields{"symbol": "rb2510"}).Info("tick")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line not JSON: %v (%s)", err, buf.String())
	}
	if record["component"] != "gateway" || record["symbol"] != "rb2510" {
		t.Errorf("record = %v", record)
	}
	if record["message"] != "tick" {
		t.Errorf("message = %v", record["message"])
	}
}

func TestErrorCountsByComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	before := atomic.LoadInt64(&errorsGateway)
	log.WithComponent("gateway").Error("boom")
	if atomic.LoadInt64(&errorsGateway) != before+1 {
		t.Error("gateway error not counted")
	}

	before = atomic.LoadInt64(&errorsDatafeed)
	log.WithComponent("datafeed").Error("boom")
	if atomic.LoadInt64(&errorsDatafeed) != before+1 {
		t.Error("datafeed error not counted")
	}
}

func TestCallerHookSkipsLoggerFrames(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("test").Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if file, ok := record["file"].(string); ok {
		if strings.Contains(file, "logger.go") || strings.Contains(file, "caller_hook.go") {
			t.Errorf("caller points inside the logger package: %s", file)
		}
	}
}
