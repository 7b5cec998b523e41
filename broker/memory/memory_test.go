package memory

import (
	"testing"

	"github.com/fluxgate/fluxgate/broker"
	"github.com/fluxgate/fluxgate/broker/brokertest"
)

func TestMemoryBroker(t *testing.T) {
	brokertest.Run(t, func(t *testing.T) broker.Broker {
		return New()
	})
}
