package gateway

import (
	"github.com/xraph/popgate/job"
	"github.com/xraph/popgate/stream"
	"github.com/xraph/popgate/worker"
)

// Stats is a point-in-time view of the gateway.
type Stats struct {
	Jobs             map[job.State]int  `json:"jobs"`
	Pool             worker.PoolStats   `json:"pool"`
	Broker           stream.BrokerStats `json:"broker"`
	AdmissionClients int                `json:"admission_clients"`
}

// Stats returns live job counts by state and subsystem occupancy.
func (g *Gateway) Stats() Stats {
	return Stats{
		Jobs:             g.jobs.Counts(),
		Pool:             g.pool.Stats(),
		Broker:           g.broker.Stats(),
		AdmissionClients: g.admission.Clients(),
	}
}
