package mavlink

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
)

// Standard rates accepted by serial drivers
var baudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true, 19200: true, 38400: true,
	57600: true, 115200: true, 230400: true, 460800: true, 500000: true,
	576000: true, 921600: true, 1000000: true, 1500000: true, 2000000: true,
}

// ParseURL converts a connection URL into a gomavlib endpoint. Supported forms:
//
//	serial://<device>:<baud>   serial port
//	udp://[host]:<port>        listen for UDP datagrams
//	udpout://<host>:<port>     send UDP datagrams to host
//	tcp://<host>:<port>        connect to a TCP server
//	tcpin://[host]:<port>      accept TCP connections
func ParseURL(raw string) (gomavlib.EndpointConf, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	switch strings.ToLower(scheme) {
	case "serial":
		i := strings.LastIndex(rest, ":")
		if i <= 0 || i == len(rest)-1 {
			return nil, fmt.Errorf("%w: %q: want serial://<device>:<baud>", ErrInvalidURL, raw)
		}

		baud, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %s", ErrInvalidURL, raw, err)
		}
		if !baudRates[baud] {
			return nil, fmt.Errorf("%w: %d", ErrBaudrateUnknown, baud)
		}

		return gomavlib.EndpointSerial{Device: rest[:i], Baud: baud}, nil

	case "udp":
		addr, err := hostPort(raw, rest, true)
		if err != nil {
			return nil, err
		}
		return gomavlib.EndpointUDPServer{Address: addr}, nil

	case "udpout":
		addr, err := hostPort(raw, rest, false)
		if err != nil {
			return nil, err
		}
		return gomavlib.EndpointUDPClient{Address: addr}, nil

	case "tcp":
		addr, err := hostPort(raw, rest, false)
		if err != nil {
			return nil, err
		}
		return gomavlib.EndpointTCPClient{Address: addr}, nil

	case "tcpin":
		addr, err := hostPort(raw, rest, true)
		if err != nil {
			return nil, err
		}
		return gomavlib.EndpointTCPServer{Address: addr}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, scheme)
	}
}

func hostPort(raw, addr string, emptyHost bool) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %s", ErrInvalidURL, raw, err)
	}
	if host == "" && !emptyHost {
		return "", fmt.Errorf("%w: %q: host is required", ErrInvalidURL, raw)
	}

	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return "", fmt.Errorf("%w: %q: invalid port %q", ErrInvalidURL, raw, port)
	}

	return net.JoinHostPort(host, port), nil
}
