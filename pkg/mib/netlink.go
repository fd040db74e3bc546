package mib

import (
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
)

// NetlinkSource reads the ifTable from the kernel.
func NetlinkSource() ([]IfData, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	out := make([]IfData, 0, len(links))
	for _, link := range links {
		out = append(out, linkToIfData(link))
	}
	return out, nil
}

func linkToIfData(link netlink.Link) IfData {
	attrs := link.Attrs()
	d := IfData{
		IfIndex:     attrs.Index,
		IfDescr:     attrs.Name,
		IfType:      linkIfType(link),
		IfMtu:       attrs.MTU,
		IfSpeed:     linkSpeed(attrs.Name),
		PhysAddress: []byte(attrs.HardwareAddr),
		AdminStatus: IfStatusDown,
		OperStatus:  operStatus(attrs.OperState),
	}
	if attrs.Flags&net.FlagUp != 0 {
		d.AdminStatus = IfStatusUp
	}
	if st := attrs.Statistics; st != nil {
		d.InOctets = uint32(st.RxBytes)
		d.InUcastPkts = uint32(st.RxPackets - st.Multicast)
		d.InDiscards = uint32(st.RxDropped)
		d.InErrors = uint32(st.RxErrors)
		d.OutOctets = uint32(st.TxBytes)
		d.OutUcastPkts = uint32(st.TxPackets)
		d.OutDiscards = uint32(st.TxDropped)
		d.OutErrors = uint32(st.TxErrors)
	}
	return d
}

func linkIfType(link netlink.Link) int {
	switch link.Type() {
	case "device":
		if link.Attrs().EncapType == "loopback" {
			return IfTypeSoftwareLoopback
		}
		return IfTypeEthernet
	case "veth", "macvlan", "ipvlan", "vrf", "dummy", "tuntap":
		return IfTypePropVirtual
	case "vlan":
		return IfTypeL2VLAN
	case "bridge":
		return IfTypeBridge
	case "gre", "gretap", "ipip", "sit", "ip6tnl", "vti", "wireguard", "xfrm":
		return IfTypeTunnel
	}
	return IfTypeOther
}

func operStatus(s netlink.LinkOperState) int {
	switch s {
	case netlink.OperUp:
		return IfStatusUp
	case netlink.OperDown:
		return IfStatusDown
	case netlink.OperDormant:
		return IfStatusDormant
	case netlink.OperLowerLayerDown:
		return IfStatusLowerDown
	}
	return IfStatusUnknown
}

// linkSpeed returns the link speed in bits per second, saturated to
// Gauge32, or 0 when the kernel does not know it.
func linkSpeed(name string) uint32 {
	data, err := os.ReadFile("/sys/class/net/" + name + "/speed")
	if err != nil {
		return 0
	}
	mbps, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || mbps <= 0 {
		return 0
	}
	bps := mbps * 1_000_000
	if bps > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(bps)
}
