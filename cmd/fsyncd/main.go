// Command fsyncd is the process entrypoint: it resolves the handful of
// OS-level inputs Run can't be handed in-process (a TCP listener, a
// dialer, the store file, node identity bootstrap) from the
// environment, then hands them to Run and waits for a signal. Run
// itself -- not main -- is the composition root spec §6.3 describes.
package main

import (
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wwwVladislav/fsync-sub000/link"
	"github.com/wwwVladislav/fsync-sub000/nodeconfig"
	"github.com/wwwVladislav/fsync-sub000/peerid"
	"github.com/wwwVladislav/fsync-sub000/store"
)

func main() {
	dbPath := envOr("FSYNC_DB", "fsync.db")
	listenAddr := envOr("FSYNC_LISTEN", "0.0.0.0:9000")
	syncRoot := envOr("FSYNC_SYNC_ROOT", "./fsync-root")
	peers := splitCSV(os.Getenv("FSYNC_PEERS"))

	h, err := store.Open(dbPath, 5*time.Second)
	if err != nil {
		log.Errorf(nil, "opening store: %v", err)
		os.Exit(1)
	}
	defer h.Close()

	cfg, err := nodeconfig.Bootstrap(h, nodeconfig.Node{
		PeerID:        peerid.Generate(),
		ListenAddress: listenAddr,
		SyncRoot:      syncRoot,
	})
	if err != nil {
		log.Errorf(nil, "bootstrapping node config: %v", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Errorf(nil, "listening on %s: %v", cfg.ListenAddress, err)
		os.Exit(1)
	}
	defer ln.Close()

	node, err := Run(cfg, h, tcpListener{ln}, tcpDialer{}, peers)
	if err != nil {
		log.Errorf(nil, "starting node: %v", err)
		os.Exit(1)
	}
	defer node.Close()

	log.Infof(nil, "fsyncd running as %s, listening on %s, sync root %s", cfg.PeerID, cfg.ListenAddress, cfg.SyncRoot)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof(nil, "shutting down")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// tcpDialer and tcpListener adapt net's TCP primitives to link.Dialer
// and link.Listener; link.go's own Non-goals leave transport
// construction to this composition root.
type tcpDialer struct{}

func (tcpDialer) Dial(addr string) (link.Conn, error) { return net.Dial("tcp", addr) }

type tcpListener struct{ ln net.Listener }

func (t tcpListener) Accept() (link.Conn, error) { return t.ln.Accept() }
func (t tcpListener) Close() error               { return t.ln.Close() }
