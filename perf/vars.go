package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency = metric.NewHistogram("1m1s")
	SpfLatency      = metric.NewHistogram("1m1s")

	HellosSent     = metric.NewCounter("10s1s")
	HellosReceived = metric.NewCounter("10s1s")
	Floods         = metric.NewCounter("10s1s")
	Originations   = metric.NewCounter("10s1s")
	Retransmits    = metric.NewCounter("10s1s")
	Purges         = metric.NewCounter("10s1s")
	SpfRuns        = metric.NewCounter("10s1s")
	RibPublishes   = metric.NewCounter("10s1s")
	SentBytes      = metric.NewCounter("10s1s")
	RecvBytes      = metric.NewCounter("10s1s")

	DropChecksum       = metric.NewCounter("1m1s")
	DropDecode         = metric.NewCounter("1m1s")
	DropStale          = metric.NewCounter("1m1s")
	DropDuplicate      = metric.NewCounter("1m1s")
	DropResurrect      = metric.NewCounter("1m1s")
	DropDbFull         = metric.NewCounter("1m1s")
	DropAuth           = metric.NewCounter("1m1s")
	DropUnknownSender  = metric.NewCounter("1m1s")
	DropUnknownCircuit = metric.NewCounter("1m1s")
	DropNoAdjacency    = metric.NewCounter("1m1s")
	RetransmitDrops    = metric.NewCounter("1m1s")
	SeqExhaustions     = metric.NewCounter("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("aramid:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("aramid:SpfLatency (µs)", SpfLatency)

	expvar.Publish("aramid:HellosSent/s", HellosSent)
	expvar.Publish("aramid:HellosRecv/s", HellosReceived)
	expvar.Publish("aramid:Floods/s", Floods)
	expvar.Publish("aramid:Originations/s", Originations)
	expvar.Publish("aramid:Retransmits/s", Retransmits)
	expvar.Publish("aramid:Purges/s", Purges)
	expvar.Publish("aramid:SpfRuns/s", SpfRuns)
	expvar.Publish("aramid:RibPublishes/s", RibPublishes)
	expvar.Publish("aramid:SentBytes/s", SentBytes)
	expvar.Publish("aramid:RecvBytes/s", RecvBytes)

	expvar.Publish("aramid:DropChecksum", DropChecksum)
	expvar.Publish("aramid:DropDecode", DropDecode)
	expvar.Publish("aramid:DropStale", DropStale)
	expvar.Publish("aramid:DropDuplicate", DropDuplicate)
	expvar.Publish("aramid:DropResurrect", DropResurrect)
	expvar.Publish("aramid:DropDbFull", DropDbFull)
	expvar.Publish("aramid:DropAuth", DropAuth)
	expvar.Publish("aramid:DropUnknownSender", DropUnknownSender)
	expvar.Publish("aramid:DropUnknownCircuit", DropUnknownCircuit)
	expvar.Publish("aramid:DropNoAdjacency", DropNoAdjacency)
	expvar.Publish("aramid:RetransmitDrops", RetransmitDrops)
	expvar.Publish("aramid:SeqExhaustions", SeqExhaustions)
}
