package transport

import (
	"crypto/tls"
	"strings"
	"testing"

	"github.com/user/billingagent/internal/core"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}

func TestNewAppliesDocumentedInsecureTLSDefaults(t *testing.T) {
	a := New(core.Config{BrokerHost: "broker.example.com", BrokerPort: 8883}, noopLogger{})

	if a.opts.TLSConfig == nil {
		t.Fatal("expected a TLS config to be set")
	}
	if a.opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", a.opts.TLSConfig.MinVersion)
	}
	if !a.opts.TLSConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to default to true (§6)")
	}
}

func TestNewGeneratesClientIDWhenNotConfigured(t *testing.T) {
	a := New(core.Config{BrokerHost: "broker.example.com"}, noopLogger{})
	if !strings.HasPrefix(a.opts.ClientID, "billingagent-") {
		t.Errorf("ClientID = %q, want billingagent-<uuid> prefix", a.opts.ClientID)
	}
}

func TestNewPreservesExplicitClientID(t *testing.T) {
	a := New(core.Config{BrokerHost: "broker.example.com", ClientID: "fixed-id"}, noopLogger{})
	if a.opts.ClientID != "fixed-id" {
		t.Errorf("ClientID = %q, want fixed-id", a.opts.ClientID)
	}
}

func TestNewCallerSuppliedTLSConfigOverridesDefaults(t *testing.T) {
	a := New(core.Config{
		BrokerHost: "broker.example.com",
		TLSConfig: &core.TLSConfig{
			MinVersion:         tls.VersionTLS13,
			InsecureSkipVerify: false,
			ServerName:         "broker.example.com",
		},
	}, noopLogger{})

	if a.opts.TLSConfig.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %x, want TLS 1.3", a.opts.TLSConfig.MinVersion)
	}
	if a.opts.TLSConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to be overridden to false")
	}
	if a.opts.TLSConfig.ServerName != "broker.example.com" {
		t.Errorf("ServerName = %q, want broker.example.com", a.opts.TLSConfig.ServerName)
	}
}

func TestNewIgnoresUnparsableRootCAs(t *testing.T) {
	a := New(core.Config{
		BrokerHost: "broker.example.com",
		TLSConfig:  &core.TLSConfig{RootCAs: []byte("not a certificate")},
	}, noopLogger{})

	if a.opts.TLSConfig.RootCAs != nil {
		t.Error("expected an unparsable RootCAs PEM blob to be silently ignored, not installed")
	}
}

func TestCloseIsIdempotentOnAnUnopenedAdapter(t *testing.T) {
	a := New(core.Config{BrokerHost: "broker.example.com"}, noopLogger{})
	a.Close()
	a.Close() // must not panic

	select {
	case _, ok := <-a.Messages():
		if ok {
			t.Fatal("expected Messages() to be closed after Close")
		}
	default:
		t.Fatal("expected Messages() channel to be closed (readable without blocking) after Close")
	}
}
