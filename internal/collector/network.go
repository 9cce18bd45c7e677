package collector

import (
	"context"
	"time"

	"github.com/nullhaus/sysmond/internal/core"
	psnet "github.com/shirou/gopsutil/v4/net"
)

type netSample struct {
	bytesSent uint64
	bytesRecv uint64
	pktSent   uint64
	pktRecv   uint64
	errors    uint64
	at        time.Time
}

// NetworkCollector aggregates throughput across non-loopback interfaces.
// Like DiskCollector it reports a delta, so the first tick only establishes
// a baseline; counters that decrease between ticks (device reset, 32-bit
// wraparound) are treated as a fresh baseline rather than a negative rate.
type NetworkCollector struct {
	prev     netSample
	haveBase bool
}

func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{}
}

func (c *NetworkCollector) Name() string { return "network" }

func (c *NetworkCollector) Sample(ctx context.Context) (any, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, &Failure{Reason: ReasonTransientError, Detail: err.Error()}
	}

	var cur netSample
	cur.at = time.Now()
	interfaces := make([]core.InterfaceInfo, 0, len(counters))
	ifaceStats, _ := psnet.InterfacesWithContext(ctx)
	upByName := make(map[string]bool, len(ifaceStats))
	for _, iface := range ifaceStats {
		up := false
		for _, flag := range iface.Flags {
			if flag == "up" {
				up = true
			}
		}
		upByName[iface.Name] = up
	}

	for _, counter := range counters {
		if isLoopbackInterface(counter.Name) {
			continue
		}
		cur.bytesSent += counter.BytesSent
		cur.bytesRecv += counter.BytesRecv
		cur.pktSent += counter.PacketsSent
		cur.pktRecv += counter.PacketsRecv
		cur.errors += counter.Errin + counter.Errout
		interfaces = append(interfaces, core.InterfaceInfo{
			Name: counter.Name,
			IsUp: upByName[counter.Name],
		})
	}

	connActive := 0
	if conns, err := psnet.ConnectionsWithContext(ctx, "inet"); err == nil {
		for _, conn := range conns {
			if conn.Status == "ESTABLISHED" {
				connActive++
			}
		}
	}

	frag := &core.NetworkFragment{
		BytesSent:         cur.bytesSent,
		BytesReceived:     cur.bytesRecv,
		PacketsSent:       cur.pktSent,
		PacketsReceived:   cur.pktRecv,
		Errors:            cur.errors,
		ConnectionsActive: connActive,
		Interfaces:        interfaces,
	}

	prev := c.prev
	haveBase := c.haveBase
	c.prev = cur
	c.haveBase = true

	if !haveBase {
		frag.WarmingUp = true
		return frag, nil
	}
	elapsed := cur.at.Sub(prev.at).Seconds()
	if elapsed <= 0 || cur.bytesSent < prev.bytesSent || cur.bytesRecv < prev.bytesRecv {
		frag.WarmingUp = true
		return frag, nil
	}
	frag.UploadMbps = bytesDeltaToMbps(prev.bytesSent, cur.bytesSent, elapsed)
	frag.DownloadMbps = bytesDeltaToMbps(prev.bytesRecv, cur.bytesRecv, elapsed)
	return frag, nil
}

func isLoopbackInterface(name string) bool {
	switch name {
	case "lo", "lo0", "Loopback":
		return true
	default:
		return false
	}
}
