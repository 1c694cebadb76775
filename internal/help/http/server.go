// Package helphttp exposes the request lifecycle as a JSON API.
package helphttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmizerany/pat"
	"github.com/google/uuid"
	"github.com/justinas/alice"

	"neighborly/internal/help/duration"
	"neighborly/internal/help/gateway"
	"neighborly/internal/help/geo"
	"neighborly/internal/help/lifecycle"
	"neighborly/internal/help/taxonomy"
	"neighborly/internal/help/wizard"
	"neighborly/internal/help/ws"
	"neighborly/internal/models"
)

// Logger provides minimal logging required by the server.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geo.Coords, error)
}

const maxBody = 64 << 10

// Server handles HTTP endpoints for the help module.
type Server struct {
	logger   Logger
	svc      *lifecycle.Service
	wizard   *wizard.Wizard
	resolver *duration.Resolver
	geocoder Geocoder
	hub      *ws.Hub

	mu           sync.Mutex
	debouncers   map[string]*viewerDebouncer
	geocodeDelay time.Duration
}

// viewerDebouncer is shared by the lookups of one viewer that overlap. It is
// dropped when the last of them returns.
type viewerDebouncer struct {
	*geo.Debouncer
	active int
}

// NewServer constructs Server. geocoder and hub may be nil.
func NewServer(logger Logger, svc *lifecycle.Service, resolver *duration.Resolver, geocoder Geocoder, hub *ws.Hub) *Server {
	return &Server{
		logger:     logger,
		svc:        svc,
		wizard:     wizard.New(svc.Table()),
		resolver:   resolver,
		geocoder:   geocoder,
		hub:        hub,
		debouncers: make(map[string]*viewerDebouncer),
	}
}

// RegisterRoutes registers the help endpoints on mux. public serves the
// taxonomy and wizard; auth must attach a session (see WithSession).
func (s *Server) RegisterRoutes(mux *pat.PatternServeMux, public, auth alice.Chain) {
	mux.Get("/api/v1/help/categories", public.ThenFunc(s.listCategories))
	mux.Get("/api/v1/help/categories/:id/actions", public.ThenFunc(s.searchActions))
	mux.Get("/api/v1/help/wizard", public.ThenFunc(s.wizardState))
	mux.Post("/api/v1/help/wizard/category", public.ThenFunc(s.wizardSelectCategory))
	mux.Post("/api/v1/help/wizard/action", public.ThenFunc(s.wizardSelectAction))
	mux.Post("/api/v1/help/wizard/back", public.ThenFunc(s.wizardBack))
	mux.Get("/api/v1/help/duration", public.ThenFunc(s.resolveDuration))

	mux.Get("/api/v1/help/details", auth.ThenFunc(s.listHelpDetails))
	mux.Get("/api/v1/help/feed", auth.ThenFunc(s.feed))
	mux.Post("/api/v1/help/requests", auth.ThenFunc(s.submitRequest))
	mux.Get("/api/v1/help/requests/:id", auth.ThenFunc(s.negotiation))
	mux.Post("/api/v1/help/requests/:id/offers", auth.ThenFunc(s.submitOffer))
	mux.Post("/api/v1/help/requests/:id/offers/:offer_id/accept", auth.ThenFunc(s.acceptOffer))
	mux.Get("/api/v1/help/assists/:id", auth.ThenFunc(s.assist))
	mux.Post("/api/v1/help/assists/:id/status", auth.ThenFunc(s.advanceAssist))
	mux.Post("/api/v1/help/invite", auth.ThenFunc(s.inviteCode))
	mux.Post("/api/v1/help/vouch/handshake", auth.ThenFunc(s.vouchHandshake))
	mux.Post("/api/v1/help/vouch", auth.ThenFunc(s.vouch))
	mux.Get("/api/v1/help/geocode", auth.ThenFunc(s.geocode))
	if s.hub != nil {
		mux.Get("/ws/help", auth.ThenFunc(s.hub.ServeWS))
	}
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": s.svc.Table().Categories()})
}

func (s *Server) searchActions(w http.ResponseWriter, r *http.Request) {
	c, ok := s.svc.Table().Category(r.URL.Query().Get(":id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown category.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": c.SearchActions(r.URL.Query().Get("q"))})
}

type wizardResponse struct {
	wizard.State
	Query string `json:"query"`
	Exit  bool   `json:"exit,omitempty"`
}

func (s *Server) wizardView(sel wizard.Selection, exit bool) wizardResponse {
	st := s.wizard.Resolve(sel)
	return wizardResponse{State: st, Query: wizard.Encode(st.Selection).Encode(), Exit: exit}
}

func (s *Server) wizardState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.wizardView(wizard.Decode(r.URL.Query()), false))
}

func (s *Server) wizardSelectCategory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CategoryID string `json:"categoryId"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	next, err := s.wizard.SelectCategory(wizard.Decode(r.URL.Query()), strings.TrimSpace(body.CategoryID))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wizardView(next, false))
}

func (s *Server) wizardSelectAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActionID string `json:"actionId"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	next, err := s.wizard.SelectAction(wizard.Decode(r.URL.Query()), strings.TrimSpace(body.ActionID))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wizardView(next, false))
}

func (s *Server) wizardBack(w http.ResponseWriter, r *http.Request) {
	next, exit := s.wizard.Back(wizard.Decode(r.URL.Query()))
	writeJSON(w, http.StatusOK, s.wizardView(next, exit))
}

type durationResponse struct {
	RequestType taxonomy.RequestType `json:"request_type"`
	Minutes     int                  `json:"minutes,omitempty"`
	Resolved    bool                 `json:"resolved"`
	QuickPicks  []int                `json:"quick_picks,omitempty"`
	Floor       int                  `json:"floor,omitempty"`
}

func (s *Server) resolveDuration(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel := wizard.Decode(q)
	res := s.svc.Table().ResolveAction(sel.CategoryID, sel.ActionID)
	if !res.Resolved() {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Choose what you need.", Field: wizard.ParamAction})
		return
	}
	in := duration.Input{Pickup: q.Get("pickup"), Return: q.Get("return")}
	if v := q.Get("minutes"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Pick a valid duration.", Field: "duration"})
			return
		}
		in.ServiceMinutes = m
	}
	minutes, ok, err := s.resolver.Resolve(res.Action.Type, in)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Pick a valid duration.", Field: "duration"})
		return
	}
	out := durationResponse{RequestType: res.Action.Type, Minutes: minutes, Resolved: ok}
	if res.Action.Type == taxonomy.TypeService {
		out.QuickPicks = s.resolver.QuickPicks()
	} else {
		out.Floor = s.resolver.Floor()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listHelpDetails(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	details, err := s.svc.HelpDetails(r.Context(), sess)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"help_details": details})
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := s.svc.Feed(r.Context(), sess, strings.TrimSpace(r.URL.Query().Get(wizard.ParamCategory)))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var draft lifecycle.Draft
	if !s.decode(w, r, &draft) {
		return
	}
	res, err := s.svc.Submit(r.Context(), sess, draft)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) negotiation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, ":id")
	if !ok {
		return
	}
	view, err := s.svc.Negotiation(r.Context(), sess, id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) submitOffer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, ":id")
	if !ok {
		return
	}
	var in lifecycle.OfferInput
	if !s.decode(w, r, &in) {
		return
	}
	if err := s.svc.SubmitOffer(r.Context(), sess, id, in); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

func (s *Server) acceptOffer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, ":id")
	if !ok {
		return
	}
	offerID, ok := pathID(w, r, ":offer_id")
	if !ok {
		return
	}
	if err := s.svc.AcceptOffer(r.Context(), sess, id, offerID); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "redirect": "/dashboard"})
}

func (s *Server) assist(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, ":id")
	if !ok {
		return
	}
	card, err := s.svc.Assist(r.Context(), sess, id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) advanceAssist(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, ":id")
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.svc.AdvanceAssist(r.Context(), sess, id, strings.TrimSpace(body.Status)); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": body.Status})
}

func (s *Server) inviteCode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	code, err := s.svc.InviteCode(r.Context(), sess)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) vouchHandshake(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	code, err := s.svc.VouchHandshake(r.Context(), sess)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) vouch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.svc.Vouch(r.Context(), sess, body.Code); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"vouched": true})
}

// geocode resolves the address typed so far. A newer call from the same
// viewer cancels the older one, which then answers 409.
func (s *Server) geocode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.geocoder == nil {
		writeError(w, http.StatusServiceUnavailable, "Geocoding is not configured.")
		return
	}
	d, release := s.debouncer(sess.UserID)
	defer release()
	coords, err := d.Lookup(r.Context(), r.URL.Query().Get("q"))
	switch {
	case errors.Is(err, geo.ErrSuperseded):
		writeError(w, http.StatusConflict, "Superseded by a newer lookup.")
	case err != nil:
		if s.logger != nil {
			s.logger.Errorf("geocode: %v", err)
		}
		writeError(w, http.StatusBadGateway, "Could not look up that address.")
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"coords": coords})
	}
}

// SetGeocodeDelay sets the debounce applied to address lookups. Zero keeps
// the geo package default.
func (s *Server) SetGeocodeDelay(d time.Duration) {
	s.mu.Lock()
	s.geocodeDelay = d
	s.mu.Unlock()
}

func (s *Server) debouncer(viewerID string) (*geo.Debouncer, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debouncers[viewerID]
	if !ok {
		d = &viewerDebouncer{Debouncer: geo.NewDebouncer(s.geocoder.Geocode, s.geocodeDelay)}
		s.debouncers[viewerID] = d
	}
	d.active++

	var once sync.Once
	return d.Debouncer, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			d.active--
			if d.active == 0 && s.debouncers[viewerID] == d {
				delete(s.debouncers, viewerID)
			}
		})
	}
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (gateway.Session, bool) {
	sess, ok := SessionFrom(r.Context())
	if !ok {
		s.writeFailure(w, r, models.ErrUnauthorized)
		return sess, false
	}
	return sess, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	raw := r.URL.Query().Get(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+strings.TrimPrefix(param, ":"))
		return "", false
	}
	return id.String(), true
}
