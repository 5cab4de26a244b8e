package device

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-bonbon/internal/httpc"
	"github.com/teslashibe/go-bonbon/internal/log"
)

// Prober reports whether something answers at addr (host:port).
type Prober func(ctx context.Context, addr string) bool

// HTTPProber probes with a GET / bounded by timeout. Any 2xx answer counts.
func HTTPProber(timeout time.Duration) Prober {
	client := httpc.NewProbeClient(timeout)
	return func(ctx context.Context, addr string) bool {
		_, err := httpc.GetBytes(ctx, client, "http://"+addr+"/", timeout)
		return err == nil
	}
}

// AddressStore persists the discovered address.
type AddressStore interface {
	SetDeviceAddress(addr string) error
}

// Discovery locates the device on the local /24.
type Discovery struct {
	Port  int
	Probe Prober
	Store AddressStore // Optional

	// LocalAddr returns this host's address. Defaults to LocalIPv4.
	LocalAddr func() (netip.Addr, error)
}

// Find returns the device IP. The previous address is tried first; otherwise
// every address of the local /24 is probed concurrently and the first to
// answer wins. The result is persisted through Store.
func (d *Discovery) Find(ctx context.Context, previous string) (string, error) {
	logger := log.Component("discovery")

	addr, err := d.find(ctx, previous)
	if err != nil {
		return "", err
	}

	if addr == previous {
		logger.Info("device answered at previous address", "address", addr)
	} else {
		logger.Info("found device", "address", addr, "previous", previous)
	}

	if d.Store != nil {
		if err := d.Store.SetDeviceAddress(addr); err != nil {
			logger.Warn("failed to persist device address", "error", err)
		}
	}
	return addr, nil
}

func (d *Discovery) find(ctx context.Context, previous string) (string, error) {
	if previous != "" && d.Probe(ctx, hostPort(previous, d.Port)) {
		return previous, nil
	}

	localAddr := d.LocalAddr
	if localAddr == nil {
		localAddr = LocalIPv4
	}
	local, err := localAddr()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if !local.Is4() {
		return "", fmt.Errorf("%w: local address %s is not IPv4", ErrNoDevice, local)
	}

	log.Component("discovery").Info("sweeping subnet for device", "subnet", fmt.Sprintf("%s/24", subnetBase(local)), "port", d.Port)

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan string, 1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	base := local.As4()
	for i := 0; i < 256; i++ {
		octets := base
		octets[3] = byte(i)
		ip := netip.AddrFrom4(octets).String()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.Probe(probeCtx, hostPort(ip, d.Port)) {
				return
			}
			select {
			case found <- ip:
				cancel()
			default:
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case ip := <-found:
		return ip, nil
	case <-done:
		select {
		case ip := <-found:
			return ip, nil
		default:
			return "", fmt.Errorf("%w on %s/24 port %d", ErrNoDevice, subnetBase(local), d.Port)
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// LocalIPv4 returns the first non-loopback IPv4 address of this host.
func LocalIPv4() (netip.Addr, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.Is4() && !addr.IsLoopback() && !addr.IsLinkLocalUnicast() {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no IPv4 interface address")
}

func subnetBase(local netip.Addr) netip.Addr {
	octets := local.As4()
	octets[3] = 0
	return netip.AddrFrom4(octets)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
