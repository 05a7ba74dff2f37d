// Package sentrytest is an in-memory double of the Sentry HTTP surface
// consumed by sentryclient, exposed as an httptest.Server so a real
// sentryclient.Client can be driven against it. This mirrors the
// in-process simulated-backend pattern used elsewhere for testing
// RPC-bound code without a live network dependency.
package sentrytest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/adex-validators/validator-core/balances"
	"github.com/adex-validators/validator-core/channeltypes"
	"github.com/adex-validators/validator-core/sentrytypes"
)

// Server is one validator's in-memory Sentry: a per-channel append-only
// message log plus an accounting snapshot, served over HTTP.
type Server struct {
	mu sync.Mutex

	channels   map[common.Hash]channeltypes.Channel
	campaigns  map[common.Hash]channeltypes.Campaign
	accounting map[common.Hash]balances.Checked
	messages   map[common.Hash][]entry

	pageSize int

	httpServer *httptest.Server
}

type entry struct {
	From common.Address
	Msg  sentrytypes.Message
}

// New starts a Server listening on a loopback address.
func New() *Server {
	s := &Server{
		channels:   make(map[common.Hash]channeltypes.Channel),
		campaigns:  make(map[common.Hash]channeltypes.Campaign),
		accounting: make(map[common.Hash]balances.Checked),
		messages:   make(map[common.Hash][]entry),
		pageSize:   50,
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL is this Server's base address, suitable for sentryclient.Validator.URL.
func (s *Server) URL() string { return s.httpServer.URL }

// Close tears down the underlying httptest.Server.
func (s *Server) Close() { s.httpServer.Close() }

// AddChannel registers a channel for discovery via /v5/channel/list.
func (s *Server) AddChannel(ch channeltypes.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
}

// AddCampaign registers a campaign for discovery via /v5/campaign/list.
func (s *Server) AddCampaign(c channeltypes.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

// SetAccounting sets the Checked accounting snapshot served for channelID.
func (s *Server) SetAccounting(channelID common.Hash, checked balances.Checked) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounting[channelID] = checked
}

// SetPageSize controls how many entries each paginated endpoint returns
// per page, so tests can exercise multi-page pagination without needing
// hundreds of fixtures.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// Seed appends from's message directly into channelID's log, bypassing
// the HTTP POST path, so tests can set up "the Leader already proposed
// X" fixtures in one call.
func (s *Server) Seed(channelID common.Hash, from common.Address, msg sentrytypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[channelID] = append(s.messages[channelID], entry{From: from, Msg: msg})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/last-approved"):
		s.handleLastApproved(w, r)
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/validator-messages/"):
		s.handleValidatorMessagesGet(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/validator-messages"):
		s.handleValidatorMessagesPost(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/accounting"):
		s.handleAccounting(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/spender/all"):
		s.handleSpenders(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/channel/list"):
		s.handleChannelList(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/campaign/list"):
		s.handleCampaignList(w, r)
	default:
		http.NotFound(w, r)
	}
}

func channelIDFromPath(path string) (common.Hash, error) {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "channel" && i+1 < len(parts) {
			return common.HexToHash(parts[i+1]), nil
		}
	}
	return common.Hash{}, fmt.Errorf("sentrytest: no channel id in path %s", path)
}

func (s *Server) handleLastApproved(w http.ResponseWriter, r *http.Request) {
	channelID, err := channelIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out struct {
		NewState     *sentrytypes.NewState     `json:"newState,omitempty"`
		ApproveState *sentrytypes.ApproveState `json:"approveState,omitempty"`
		Heartbeats   []sentrytypes.Heartbeat   `json:"heartbeats,omitempty"`
	}
	var latestNewState *sentrytypes.NewState
	for _, e := range s.messages[channelID] {
		switch m := e.Msg.(type) {
		case sentrytypes.NewState:
			mm := m
			latestNewState = &mm
		case sentrytypes.ApproveState:
			mm := m
			out.ApproveState = &mm
		case sentrytypes.Heartbeat:
			out.Heartbeats = append(out.Heartbeats, m)
		}
	}
	// "new_state" here is the state that was actually approved: the most
	// recent NewState whose root matches the most recent ApproveState,
	// not simply the most recent NewState proposed. A NewState the
	// Follower hasn't approved yet is not "last approved".
	if out.ApproveState != nil {
		for i := len(s.messages[channelID]) - 1; i >= 0; i-- {
			if ns, ok := s.messages[channelID][i].Msg.(sentrytypes.NewState); ok && ns.StateRoot == out.ApproveState.StateRoot {
				mm := ns
				out.NewState = &mm
				break
			}
		}
	} else {
		out.NewState = latestNewState
	}
	writeJSON(w, out)
}

func (s *Server) handleValidatorMessagesGet(w http.ResponseWriter, r *http.Request) {
	channelID, err := channelIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.Error(w, "malformed path", http.StatusBadRequest)
		return
	}
	from := common.HexToAddress(parts[len(parts)-2])
	wantedTypes := strings.Split(parts[len(parts)-1], "+")

	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []sentrytypes.Envelope
	for i := len(s.messages[channelID]) - 1; i >= 0; i-- {
		e := s.messages[channelID][i]
		if e.From != from {
			continue
		}
		typeName := sentrytypes.TypeName(e.Msg)
		if !contains(wantedTypes, typeName) {
			continue
		}
		raw, err := sentrytypes.MarshalMessage(e.Msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		matches = append(matches, sentrytypes.Envelope{From: from, Message: raw})
		break // limit=1: latest only
	}

	writeJSON(w, map[string]any{"validatorMessages": matches})
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (s *Server) handleValidatorMessagesPost(w http.ResponseWriter, r *http.Request) {
	channelID, err := channelIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	auth := r.Header.Get("Authorization")
	from, err := fromForToken(auth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var body struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range body.Messages {
		msg, err := sentrytypes.UnmarshalMessage(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.messages[channelID] = append(s.messages[channelID], entry{From: from, Msg: msg})
	}

	writeJSON(w, map[string]any{"success": true})
}

// fromForToken recovers the signer address from a bearer EWT without
// importing package adapter, keeping this test double free of production
// auth logic. It decodes
// only the claim payload's "address" field, which callers in this test
// double are trusted to have set honestly — this is test tooling, not a
// security boundary.
func fromForToken(header string) (common.Address, error) {
	token := strings.TrimPrefix(header, "Bearer ")
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return common.Address{}, fmt.Errorf("sentrytest: malformed bearer token")
	}
	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return common.Address{}, err
	}
	var payload struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(payload.Address), nil
}

func (s *Server) handleAccounting(w http.ResponseWriter, r *http.Request) {
	channelID, err := channelIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{"balances": s.accounting[channelID]})
}

func (s *Server) handleSpenders(w http.ResponseWriter, r *http.Request) {
	channelID, err := channelIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page := pageParam(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	checked := s.accounting[channelID]

	addrs := make([]common.Address, 0, len(checked.Map.Spenders))
	for addr := range checked.Map.Spenders {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	totalPages := (len(addrs) + s.pageSize - 1) / s.pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	start := page * s.pageSize
	end := start + s.pageSize
	if start > len(addrs) {
		start = len(addrs)
	}
	if end > len(addrs) {
		end = len(addrs)
	}

	out := map[string]any{
		"spenders": func() map[string]any {
			m := map[string]any{}
			for _, a := range addrs[start:end] {
				m[a.Hex()] = map[string]any{"totalDeposited": checked.Map.Spenders[a]}
			}
			return m
		}(),
		"pagination": map[string]any{"totalPages": totalPages},
	}
	writeJSON(w, out)
}

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	validator := common.HexToAddress(r.URL.Query().Get("validator"))

	s.mu.Lock()
	defer s.mu.Unlock()

	var all []channeltypes.Channel
	for _, ch := range s.channels {
		if ch.Spec.Find(validator) != channeltypes.RoleNone {
			all = append(all, ch)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.Hex() < all[j].ID.Hex() })

	totalPages := (len(all) + s.pageSize - 1) / s.pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	start := page * s.pageSize
	end := start + s.pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	writeJSON(w, map[string]any{
		"channels":   all[start:end],
		"pagination": map[string]any{"totalPages": totalPages},
	})
}

func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	validator := common.HexToAddress(r.URL.Query().Get("validator"))
	activeToGe, _ := time.Parse(time.RFC3339, r.URL.Query().Get("activeToGe"))

	s.mu.Lock()
	defer s.mu.Unlock()

	var all []channeltypes.Campaign
	for _, c := range s.campaigns {
		if c.Channel.Spec.Find(validator) == channeltypes.RoleNone {
			continue
		}
		if !activeToGe.IsZero() && c.ActiveTo.Before(activeToGe) {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.Hex() < all[j].ID.Hex() })

	totalPages := (len(all) + s.pageSize - 1) / s.pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	start := page * s.pageSize
	end := start + s.pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	writeJSON(w, map[string]any{
		"campaigns":  all[start:end],
		"pagination": map[string]any{"totalPages": totalPages},
	})
}

func pageParam(r *http.Request) int {
	p, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || p < 0 {
		return 0
	}
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
