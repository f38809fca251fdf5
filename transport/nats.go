package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/rskv-p/nodebus/busapi"
)

// bearerClaims is the shared-secret claim the NATS transport stamps on
// outgoing requests when NATSConfig.SharedSecret is set (spec.md §6
// "RemoteTransport adapter"). This transport serves no incoming requests
// itself; VerifyBearer checks the claim for a responder on the same subjects.
// Modeled on the teacher's runn_api jwtClaims/JWTMiddleware pair, adapted
// from an HTTP bearer header to a NATS message header.
type bearerClaims struct {
	Node string `json:"sub"`
	jwt.RegisteredClaims
}

const bearerHeader = "X-Nodebus-Bearer"
const correlationHeader = "X-Nodebus-Cid"

// NATSConfig configures the embedded-or-external NATS-backed transport.
type NATSConfig struct {
	// URL is the NATS server to dial. Ignored when Embed is true.
	URL string
	// Embed starts an in-process nats-server instead of dialing URL.
	Embed bool
	Host  string
	Port  int

	// NodeName identifies this node in the bearer claim's subject.
	NodeName string
	// SharedSecret signs and verifies the bearer claim. Empty disables
	// signing (development mode).
	SharedSecret string

	RequestTimeout time.Duration
}

// NATS is a RemoteTransport backed by NATS request/reply, grounded on the
// teacher's servs/s_nats (embedded server via nats-server/v2) and
// nats_client.Client (request wrapper) — collapsed into a single adapter
// satisfying busapi.RemoteTransport.
type NATS struct {
	cfg NATSConfig

	mu sync.Mutex
	ns *server.Server
	nc *nats.Conn
}

var _ busapi.RemoteTransport = (*NATS)(nil)

// NewNATS builds an unconnected NATS transport.
func NewNATS(cfg NATSConfig) *NATS {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	return &NATS{cfg: cfg}
}

// Start connects to NATS, optionally first booting an embedded server.
func (t *NATS) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	url := t.cfg.URL
	if t.cfg.Embed {
		opts := &server.Options{Host: t.cfg.Host, Port: t.cfg.Port}
		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("transport: embedded nats-server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			return fmt.Errorf("transport: embedded nats-server not ready")
		}
		t.ns = ns
		url = ns.ClientURL()
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("transport: nats connect: %w", err)
	}
	t.nc = nc
	return nil
}

// Stop closes the client connection and, if embedded, shuts the server down.
func (t *NATS) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc != nil {
		t.nc.Close()
		t.nc = nil
	}
	if t.ns != nil {
		t.ns.Shutdown()
		t.ns = nil
	}
	return nil
}

// subject turns "network:service/action" into a dotted NATS subject.
func subject(path string) string {
	s := strings.ReplaceAll(path, ":", ".")
	return strings.ReplaceAll(s, "/", ".")
}

func (t *NATS) signBearer() (string, error) {
	if t.cfg.SharedSecret == "" {
		return "", nil
	}
	claims := bearerClaims{
		Node: t.cfg.NodeName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.cfg.RequestTimeout)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(t.cfg.SharedSecret))
}

// Request performs a NATS request/reply call, stamping a bearer claim and
// correlation id on the outgoing message header.
func (t *NATS) Request(path string, payload []byte) ([]byte, error) {
	t.mu.Lock()
	nc := t.nc
	t.mu.Unlock()
	if nc == nil {
		return nil, fmt.Errorf("transport: nats not started")
	}

	msg := nats.NewMsg(subject(path))
	msg.Data = payload
	msg.Header = nats.Header{}
	msg.Header.Set(correlationHeader, nuid.Next())
	if tok, err := t.signBearer(); err != nil {
		return nil, fmt.Errorf("transport: sign bearer: %w", err)
	} else if tok != "" {
		msg.Header.Set(bearerHeader, tok)
	}

	resp, err := nc.RequestMsg(msg, t.cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: nats request %s: %w", path, err)
	}
	return resp.Data, nil
}

// Publish fans an event out over NATS; the local bus never calls this for
// ordinary publishes (spec.md §4.4 point 7), only an explicit caller that
// wants remote fan-out.
func (t *NATS) Publish(path string, payload []byte) error {
	t.mu.Lock()
	nc := t.nc
	t.mu.Unlock()
	if nc == nil {
		return fmt.Errorf("transport: nats not started")
	}
	return nc.Publish(subject(path), payload)
}

// VerifyBearer checks a bearer claim produced by signBearer, for a server
// side listening on subject() subjects to authorize inbound requests.
func VerifyBearer(token, sharedSecret string) (string, error) {
	if sharedSecret == "" {
		return "", nil
	}
	claims := &bearerClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(sharedSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("transport: invalid bearer: %w", err)
	}
	return claims.Node, nil
}
