package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicrecords/internal/store"
	"clinicrecords/internal/util"
)

const defaultMaxBodyBytes = 1 << 20

// Config wires the server's dependencies.
type Config struct {
	Repo store.Repository
	// DoctorCache is optional; nil disables caching of the doctor list.
	DoctorCache  store.DoctorCache
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
}

// Server serves one request per accepted connection.
type Server struct {
	repo         store.Repository
	cache        store.DoctorCache
	router       *Router
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxBodyBytes int64
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Repo == nil {
		return nil, errors.New("server: repository is required")
	}
	s := &Server{
		repo:         cfg.Repo,
		cache:        cfg.DoctorCache,
		router:       NewRouter(),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Handle(http.MethodPost, "/doctor", s.handleCreateDoctor)
	s.router.Handle(http.MethodPost, "/patient", s.handleCreatePatient)
	s.router.Handle(http.MethodPost, "/prescription", s.handleCreatePrescription)
	s.router.Handle(http.MethodGet, "/doctor", s.handleListDoctors)
	s.router.Handle(http.MethodGet, "/prescription-list/{patientId}", s.handlePatientPrescriptions)
	s.router.Handle(http.MethodGet, "/healthz", s.handleHealthz)
	s.router.Handle(http.MethodGet, "/readyz", s.handleReadyz)
}

// ListenAndServe binds addr and serves until ctx is cancelled.
// A bind failure is returned before any connection is accepted.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, handling each one in
// its own goroutine. Accept errors are logged and do not stop the loop.
// On shutdown the listener is closed and in-flight exchanges are drained.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("server listening", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer wg.Wait()

	// In-flight exchanges finish even when ctx is cancelled.
	connCtx := context.WithoutCancel(ctx)
	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("server stopped accepting", "addr", ln.Addr().String())
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else if tempDelay *= 2; tempDelay > time.Second {
				tempDelay = time.Second
			}
			slog.Error("accept error", "err", err, "retry_in", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(connCtx, conn)
		}()
	}
}

// serveConn runs one exchange: parse, route, handle, respond, close.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	start := time.Now()
	logger := slog.Default().With(
		"exchange_id", uuid.NewString(),
		"remote", conn.RemoteAddr().String(),
	)
	ctx = util.ContextWithLogger(ctx, logger)

	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	var (
		resp         Response
		method, path string
	)
	req, err := ReadRequest(bufio.NewReader(conn), s.maxBodyBytes)
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("connection closed before request")
		return
	case err != nil:
		logger.Warn("read request", "err", err)
		resp = textResponse(http.StatusBadRequest, msgBadRequest)
	default:
		method, path = req.Method, req.Path
		resp = s.dispatch(ctx, req)
	}

	if s.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := resp.WriteTo(conn); err != nil {
		logger.Error("write response", "err", err)
	}
	logger.Info(
		"exchange",
		"method", method,
		"path", path,
		"status", resp.WireStatus(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// dispatch turns a handler panic into an internal error so one exchange
// cannot take the process down.
func (s *Server) dispatch(ctx context.Context, req *Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			util.LoggerFromContext(ctx).Error("handler panic", "panic", fmt.Sprint(r))
			resp = textResponse(http.StatusInternalServerError, msgGenericError)
		}
	}()
	return s.router.Dispatch(ctx, req)
}
