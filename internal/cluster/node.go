package cluster

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/metrics"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
)

// ErrNotInitialized se retorna al operar sobre un Node nil o cerrado.
var ErrNotInitialized = errors.New("raft not initialized")

// Node envuelve *raft.Raft con el ciclo de vida que usa el repositorio
// replicado: stores en bolt (o en memoria), bootstrap y Apply con timeout.
type Node struct {
	r            *raft.Raft
	log          *zap.Logger
	applyTimeout time.Duration
	id           raft.ServerID
	addr         raft.ServerAddress
	peers        int
	closeOnce    sync.Once
	closeErr     error
	closers      []func() error
}

type NodeOptions struct {
	NodeID   string            // identidad del nodo
	RaftAddr string            // host:port del transporte
	RaftDir  string            // raft.db + snapshots
	FSM      raft.FSM          // máquina de estados replicada
	Peers    map[string]string // nodeID -> raftAddr; con más de uno el bootstrap es estático

	// BootstrapPreferred fuerza a este nodo a hacer el bootstrap estático.
	// Sin él lo hace el de menor NodeID.
	BootstrapPreferred bool

	// DisableBootstrap deja al nodo esperando a que otro lo agregue.
	DisableBootstrap bool

	// InMemory usa stores y transporte en memoria; RaftDir se ignora.
	InMemory bool

	ApplyTimeout time.Duration
	Logger       *zap.Logger

	// mTLS opcional para el transporte.
	RaftTLSEnable     bool
	RaftTLSCertFile   string
	RaftTLSKeyFile    string
	RaftTLSCAFile     string
	RaftTLSServerName string
}

type storage struct {
	logs    raft.LogStore
	stable  raft.StableStore
	snaps   raft.SnapshotStore
	trans   raft.Transport
	closers []func() error
}

func NewNode(opts NodeOptions) (*Node, error) {
	if opts.NodeID == "" || opts.RaftAddr == "" || opts.FSM == nil || (opts.RaftDir == "" && !opts.InMemory) {
		return nil, errors.New("invalid NodeOptions")
	}
	log := logger.OrNop(opts.Logger).With(logger.Component("raft"), zap.String("node_id", opts.NodeID))

	var (
		st  *storage
		err error
	)
	if opts.InMemory {
		st = inmemStorage(opts.RaftAddr)
	} else {
		st, err = diskStorage(opts)
		if err != nil {
			return nil, err
		}
	}
	closeAll := func() {
		for _, c := range st.closers {
			_ = c()
		}
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)
	if opts.InMemory {
		cfg.HeartbeatTimeout = 50 * time.Millisecond
		cfg.ElectionTimeout = 50 * time.Millisecond
		cfg.LeaderLeaseTimeout = 50 * time.Millisecond
		cfg.CommitTimeout = 5 * time.Millisecond
	}

	r, err := raft.NewRaft(cfg, opts.FSM, st.logs, st.stable, st.snaps, st.trans)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("new raft: %w", err)
	}

	go func(ch <-chan bool) {
		for v := range ch {
			if v {
				metrics.RaftLeadershipChanges.Inc()
				log.Info("raft: became leader")
			}
		}
	}(r.LeaderCh())

	hasState, err := raft.HasExistingState(st.logs, st.stable, st.snaps)
	if err != nil {
		_ = r.Shutdown().Error()
		closeAll()
		return nil, fmt.Errorf("check state: %w", err)
	}
	if !hasState {
		if err := bootstrap(r, opts, cfg.LocalID, st.trans.LocalAddr(), log); err != nil {
			_ = r.Shutdown().Error()
			closeAll()
			return nil, err
		}
	}

	timeout := opts.ApplyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Node{
		r:            r,
		log:          log,
		applyTimeout: timeout,
		id:           cfg.LocalID,
		addr:         st.trans.LocalAddr(),
		peers:        len(opts.Peers),
		closers:      st.closers,
	}, nil
}

func inmemStorage(addr string) *storage {
	store := raft.NewInmemStore()
	_, trans := raft.NewInmemTransport(raft.ServerAddress(addr))
	return &storage{
		logs:    store,
		stable:  store,
		snaps:   raft.NewInmemSnapshotStore(),
		trans:   trans,
		closers: []func() error{trans.Close},
	}
}

func diskStorage(opts NodeOptions) (*storage, error) {
	if err := os.MkdirAll(opts.RaftDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir raft dir: %w", err)
	}

	// log y stable comparten la misma bolt DB
	boltStore, err := raftboltdb.NewBoltStore(filepath.Join(opts.RaftDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}

	snapStore, err := raft.NewFileSnapshotStore(opts.RaftDir, 2, os.Stderr)
	if err != nil {
		_ = boltStore.Close()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	var trans *raft.NetworkTransport
	if opts.RaftTLSEnable {
		bundle, err := loadTLSBundle(opts.RaftTLSCertFile, opts.RaftTLSKeyFile, opts.RaftTLSCAFile, opts.RaftTLSServerName)
		if err != nil {
			_ = boltStore.Close()
			return nil, fmt.Errorf("raft tls: %w", err)
		}
		ln, err := tls.Listen("tcp", opts.RaftAddr, bundle.server)
		if err != nil {
			_ = boltStore.Close()
			return nil, fmt.Errorf("tls listen: %w", err)
		}
		stream := &tlsStream{ln: ln, cfg: bundle.client}
		trans = raft.NewNetworkTransport(stream, 3, 10*time.Second, os.Stderr)
	} else {
		plain, err := raft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, os.Stderr)
		if err != nil {
			_ = boltStore.Close()
			return nil, fmt.Errorf("tcp transport: %w", err)
		}
		trans = plain
	}

	return &storage{
		logs:    boltStore,
		stable:  boltStore,
		snaps:   snapStore,
		trans:   trans,
		closers: []func() error{trans.Close, boltStore.Close},
	}, nil
}

func bootstrap(r *raft.Raft, opts NodeOptions, id raft.ServerID, addr raft.ServerAddress, log *zap.Logger) error {
	if opts.DisableBootstrap {
		log.Info("raft: waiting to be added by the leader", zap.String("addr", string(addr)))
		return nil
	}
	if len(opts.Peers) <= 1 {
		conf := raft.Configuration{Servers: []raft.Server{{ID: id, Address: addr}}}
		if err := r.BootstrapCluster(conf).Error(); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		log.Info("raft: single-node cluster bootstrapped", zap.String("addr", string(addr)))
		return nil
	}

	smallest := opts.NodeID
	for k := range opts.Peers {
		if k < smallest {
			smallest = k
		}
	}
	if !opts.BootstrapPreferred && opts.NodeID != smallest {
		log.Info("raft: waiting to join static cluster", zap.String("bootstrapper", smallest))
		return nil
	}
	var servers []raft.Server
	for pid, paddr := range opts.Peers {
		servers = append(servers, raft.Server{ID: raft.ServerID(pid), Address: raft.ServerAddress(paddr)})
	}
	if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		return fmt.Errorf("bootstrap(static): %w", err)
	}
	log.Info("raft: bootstrapped static cluster", zap.Int("servers", len(servers)))
	return nil
}

// Apply replica la mutación y espera el commit. Un error devuelto por la
// FSM se propaga como error de Apply.
func (n *Node) Apply(ctx context.Context, m Mutation) (uint64, error) {
	if n == nil || n.r == nil {
		return 0, ErrNotInitialized
	}
	if m.TsUnix == 0 {
		m.TsUnix = time.Now().Unix()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("encode mutation: %w", err)
	}
	start := time.Now()
	fut := n.r.Apply(data, n.applyTimeout)

	done := make(chan struct{})
	var applyErr error
	var index uint64
	go func() {
		applyErr = fut.Error()
		if applyErr == nil {
			index = fut.Index()
			if err, ok := fut.Response().(error); ok {
				applyErr = err
			}
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-done:
		metrics.RaftApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
		return index, applyErr
	}
}

// WaitForLeader bloquea hasta conocer un líder.
func (n *Node) WaitForLeader(ctx context.Context) error {
	if n == nil || n.r == nil {
		return ErrNotInitialized
	}
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		if n.LeaderID() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

type tlsBundle struct {
	server *tls.Config
	client *tls.Config
}

func loadTLSBundle(certFile, keyFile, caFile, serverName string) (*tlsBundle, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("raft tls: no certificates in CA file")
	}
	server := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}
	client := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
		ServerName:   serverName,
	}
	return &tlsBundle{server: server, client: client}, nil
}

type tlsStream struct {
	ln  net.Listener
	cfg *tls.Config
}

func (t *tlsStream) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(d, "tcp", string(address), t.cfg)
}
func (t *tlsStream) Accept() (net.Conn, error) { return t.ln.Accept() }
func (t *tlsStream) Close() error              { return t.ln.Close() }
func (t *tlsStream) Addr() net.Addr            { return t.ln.Addr() }

func (n *Node) IsLeader() bool {
	if n == nil || n.r == nil {
		return false
	}
	return n.r.State() == raft.Leader
}

func (n *Node) LeaderID() string {
	if n == nil || n.r == nil {
		return ""
	}
	addr, id := n.r.LeaderWithID()
	if id != "" {
		return string(id)
	}
	return string(addr)
}

func (n *Node) NodeID() string {
	if n == nil {
		return ""
	}
	return string(n.id)
}

func (n *Node) RaftAddr() string {
	if n == nil {
		return ""
	}
	return string(n.addr)
}

// Peers es la cantidad de peers estáticos configurados.
func (n *Node) Peers() int {
	if n == nil {
		return 0
	}
	return n.peers
}

// State es el estado raft local.
func (n *Node) State() string {
	if n == nil || n.r == nil {
		return "Shutdown"
	}
	return n.r.State().String()
}

// Close apaga raft y libera transporte y stores. Se puede llamar más de una vez.
func (n *Node) Close() error {
	if n == nil || n.r == nil {
		return nil
	}
	n.closeOnce.Do(func() {
		n.closeErr = n.r.Shutdown().Error()
		for _, c := range n.closers {
			if err := c(); err != nil && n.closeErr == nil {
				n.closeErr = err
			}
		}
	})
	return n.closeErr
}

// Stats es raft.Raft.Stats().
func (n *Node) Stats() map[string]string {
	if n == nil || n.r == nil {
		return map[string]string{}
	}
	return n.r.Stats()
}
