package net

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const serviceType = "_syncboard._tcp"

// Service is a hub found on the local network.
type Service struct {
	Instance string
	Addr     string
	Boards   []string
}

// URL returns the websocket endpoint for board on the service.
func (s Service) URL(board string) string {
	return "ws://" + s.Addr + "/ws/" + board
}

// Advertise announces the hub on the local network. The TXT record lists
// the boards the hub was started with. Shut the returned server down to stop.
func Advertise(port int, boards []string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	info := []string{"SyncBoard"}
	if len(boards) > 0 {
		info = append(info, "boards="+strings.Join(boards, ","))
	}

	var ips []net.IP
	if ip := net.ParseIP(OutgoingIP()); ip != nil {
		ips = append(ips, ip)
	}
	service, err := mdns.NewMDNSService(host, serviceType, "", "", port, ips, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse looks for hubs until ctx ends or timeout elapses, calling found
// for each answer with an IPv4 address.
func Browse(ctx context.Context, timeout time.Duration, found func(Service)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if ctx.Err() != nil {
				continue
			}
			if s, ok := serviceFrom(e); ok {
				found(s)
			}
		}
	}()

	params := mdns.DefaultParams(serviceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errc := make(chan error, 1)
	go func() { errc <- mdns.Query(params) }()

	select {
	case err := <-errc:
		close(entries)
		<-done
		return err
	case <-ctx.Done():
		// Query only returns once its timeout passes.
		go func() {
			<-errc
			close(entries)
		}()
		return ctx.Err()
	}
}

func serviceFrom(e *mdns.ServiceEntry) (Service, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Service{}, false
	}
	s := Service{
		Instance: strings.TrimSuffix(e.Name, "."+serviceType+".local."),
		Addr:     fmt.Sprintf("%s:%d", e.AddrV4, e.Port),
	}
	for _, field := range e.InfoFields {
		if list, ok := strings.CutPrefix(field, "boards="); ok && list != "" {
			s.Boards = strings.Split(list, ",")
		}
	}
	return s, true
}
