package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coral-discovery/pkg/auth"
	"coral-discovery/pkg/config"
	"coral-discovery/pkg/logx"
	"coral-discovery/pkg/model"
	"coral-discovery/pkg/registry"
	"coral-discovery/pkg/rpc"
	"coral-discovery/pkg/version"
)

const (
	servicePrefix = "/coral.discovery.v1.DiscoveryService/"
	jwksPath      = "/.well-known/jwks.json"

	maxBodyBytes = 1 << 20

	minTokenTTL = 60 * time.Second
	maxTokenTTL = time.Hour
)

// Gateway is the HTTP front-end: it parses Connect unary requests, routes
// them to the partition or signer they address and serializes results or
// typed errors to the wire envelope.
type Gateway struct {
	mux     *http.ServeMux
	dir     *registry.Directory
	keys    *auth.Provider
	cfg     config.Config
	svcVer  string
	started time.Time
}

func NewGateway(cfg config.Config, dir *registry.Directory, keys *auth.Provider) *Gateway {
	g := &Gateway{
		mux:     http.NewServeMux(),
		dir:     dir,
		keys:    keys,
		cfg:     cfg,
		svcVer:  version.Resolve(cfg.ServiceVersion),
		started: time.Now(),
	}
	g.mux.HandleFunc(servicePrefix, g.handleRPC)
	g.mux.HandleFunc(jwksPath, g.handleJWKS)
	g.mux.HandleFunc("/health", g.handleHealth)
	g.mux.HandleFunc("/stats", g.handleStats)
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// handleRPC decodes the Connect envelope and dispatches by method name.
func (g *Gateway) handleRPC(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, servicePrefix)
	if r.Method != http.MethodPost || method == "" || strings.Contains(method, "/") {
		http.NotFound(w, r)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		media, _, err := mime.ParseMediaType(ct)
		if err != nil || media != "application/json" {
			writeRPCError(w, rpc.Errorf(rpc.CodeInvalidArgument, "only JSON encoding is supported"))
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeRPCError(w, rpc.Errorf(rpc.CodeInvalidArgument, "failed to read request body"))
		return
	}

	g.track(method)

	var resp interface{}
	switch method {
	case "RegisterColony":
		resp, err = g.registerColony(r, body)
	case "LookupColony":
		resp, err = g.lookupColony(r, body)
	case "RegisterAgent":
		resp, err = g.registerAgent(r, body)
	case "LookupAgent":
		resp, err = g.lookupAgent(r, body)
	case "Health":
		resp, err = g.health(r)
	case "CreateBootstrapToken":
		resp, err = g.createBootstrapToken(r, body)
	case "RequestRelay", "ReleaseRelay":
		err = rpc.Errorf(rpc.CodeUnimplemented, "relay is not implemented")
	default:
		err = rpc.Errorf(rpc.CodeUnimplemented, "unknown rpc %q", method)
	}
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decode(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return rpc.Errorf(rpc.CodeInvalidArgument, "invalid request body")
	}
	return nil
}

func (g *Gateway) registerColony(r *http.Request, body []byte) (interface{}, error) {
	var req RegisterColonyRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.MeshID == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "meshId is required")
	}
	p, err := g.dir.Partition(req.MeshID)
	if err != nil {
		return nil, err
	}
	res, err := p.RegisterColony(r.Context(), model.ColonyRecord{
		MeshID:           req.MeshID,
		Pubkey:           req.Pubkey,
		Endpoints:        req.Endpoints,
		MeshIPv4:         req.MeshIPv4,
		MeshIPv6:         req.MeshIPv6,
		ConnectPort:      req.ConnectPort,
		PublicPort:       req.PublicPort,
		Metadata:         req.Metadata,
		ObservedEndpoint: req.ObservedEndpoint,
		PublicEndpoint:   req.PublicEndpoint,
	}, clientIP(r))
	if err != nil {
		return nil, err
	}
	return registerResponse(res), nil
}

func (g *Gateway) lookupColony(r *http.Request, body []byte) (interface{}, error) {
	var req LookupColonyRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.MeshID == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "meshId is required")
	}
	p, err := g.dir.Partition(req.MeshID)
	if err != nil {
		return nil, err
	}
	rec, err := p.LookupColony(r.Context(), req.MeshID)
	if err != nil {
		return nil, err
	}
	resp := LookupColonyResponse{
		MeshID:            rec.MeshID,
		Pubkey:            rec.Pubkey,
		Endpoints:         rec.Endpoints,
		MeshIPv4:          rec.MeshIPv4,
		MeshIPv6:          rec.MeshIPv6,
		ConnectPort:       rec.ConnectPort,
		PublicPort:        rec.PublicPort,
		Metadata:          rec.Metadata,
		LastSeen:          rfc3339Millis(rec.UpdatedAt),
		ObservedEndpoints: observedList(rec.ObservedEndpoint),
		Nat:               rec.NatHint,
		PublicEndpoint:    rec.PublicEndpoint,
	}
	return resp, nil
}

func (g *Gateway) registerAgent(r *http.Request, body []byte) (interface{}, error) {
	var req RegisterAgentRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.MeshID == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "meshId is required")
	}
	p, err := g.dir.Partition(req.MeshID)
	if err != nil {
		return nil, err
	}
	res, err := p.RegisterAgent(r.Context(), model.AgentRecord{
		AgentID:          req.AgentID,
		MeshID:           req.MeshID,
		Pubkey:           req.Pubkey,
		Endpoints:        req.Endpoints,
		Metadata:         req.Metadata,
		ObservedEndpoint: req.ObservedEndpoint,
	}, clientIP(r))
	if err != nil {
		return nil, err
	}
	return registerResponse(res), nil
}

// lookupAgent requires meshId: agent state lives in the mesh partition and
// there is no cross-partition index.
func (g *Gateway) lookupAgent(r *http.Request, body []byte) (interface{}, error) {
	var req LookupAgentRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.MeshID == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "meshId is required for agent lookup")
	}
	p, err := g.dir.Partition(req.MeshID)
	if err != nil {
		return nil, err
	}
	rec, err := p.LookupAgent(r.Context(), req.AgentID)
	if err != nil {
		return nil, err
	}
	resp := LookupAgentResponse{
		AgentID:           rec.AgentID,
		MeshID:            rec.MeshID,
		Pubkey:            rec.Pubkey,
		Endpoints:         rec.Endpoints,
		ObservedEndpoints: observedList(rec.ObservedEndpoint),
		Metadata:          rec.Metadata,
		LastSeen:          rfc3339Millis(rec.UpdatedAt),
	}
	return resp, nil
}

// health sums colony counts over the partitions live in this process.
func (g *Gateway) health(r *http.Request) (interface{}, error) {
	colonies := 0
	for _, p := range g.dir.Live() {
		n, _, err := p.Count(r.Context())
		if err != nil {
			return nil, err
		}
		colonies += n
	}
	return HealthResponse{
		Status:             "ok",
		Version:            g.svcVer,
		UptimeSeconds:      strconv.FormatInt(int64(time.Since(g.started).Seconds()), 10),
		RegisteredColonies: colonies,
	}, nil
}

func (g *Gateway) createBootstrapToken(_ *http.Request, body []byte) (interface{}, error) {
	var req CreateBootstrapTokenRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.ReefID == "" || req.ColonyID == "" || req.AgentID == "" || req.Intent == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "reefId, colonyId, agentId and intent are required")
	}
	ks, err := g.keys.Get()
	if err != nil {
		if errors.Is(err, auth.ErrNoSigningKey) {
			return nil, rpc.Errorf(rpc.CodeInternal, "signing key is not configured")
		}
		logx.Errorf("load signing keys: %v", err)
		return nil, rpc.Errorf(rpc.CodeInternal, "signing key could not be loaded")
	}
	ttl := g.cfg.TokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
		if ttl < minTokenTTL {
			ttl = minTokenTTL
		}
		if ttl > maxTokenTTL {
			ttl = maxTokenTTL
		}
	}
	token, expiresAt, err := ks.CreateBootstrapToken(req.ReefID, req.ColonyID, req.AgentID, req.Intent, ttl)
	if err != nil {
		logx.Errorf("create bootstrap token: %v", err)
		return nil, rpc.Errorf(rpc.CodeInternal, "token creation failed")
	}
	return CreateBootstrapTokenResponse{
		JWT:       token,
		ExpiresAt: strconv.FormatInt(expiresAt, 10),
	}, nil
}

// handleJWKS serves the verification keys with a short shared cache.
func (g *Gateway) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ks, err := g.keys.Get()
	if err != nil {
		writeRPCError(w, rpc.Errorf(rpc.CodeInternal, "signing keys unavailable"))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, ks.JWKS())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": g.svcVer,
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	m, err := g.dir.Metrics()
	if err != nil {
		writeRPCError(w, err)
		return
	}
	stats, err := m.Stats(r.Context())
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// track records the operation counter, best effort.
func (g *Gateway) track(method string) {
	m, err := g.dir.Metrics()
	if err != nil {
		logx.Debugf("metrics unavailable: %v", err)
		return
	}
	m.Track(method)
}

func registerResponse(res model.RegisterResult) RegisterResponse {
	return RegisterResponse{
		Success:          true,
		TTL:              res.TTL,
		ExpiresAt:        rfc3339Millis(res.ExpiresAt),
		ObservedEndpoint: res.ObservedEndpoint,
	}
}

func observedList(ep *model.ObservedEndpoint) []model.ObservedEndpoint {
	if ep == nil {
		return []model.ObservedEndpoint{}
	}
	return []model.ObservedEndpoint{*ep}
}
