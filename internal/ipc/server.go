// Package ipc exposes daemon control via JSON-RPC over a Unix domain
// socket. The CLI is its only intended client.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"ensemble/internal/coordinator"
	"ensemble/internal/daemon"
	"ensemble/internal/logging"
	"ensemble/internal/registry"
	"ensemble/internal/session"
	"ensemble/internal/store"
)

// Server accepts RPC connections on the daemon control socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Ensemble", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logging.NewComponentLogger(logger, "ipc"),
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path), logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via ipc")
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockPath
	resp.GatewayAddr = status.GatewayAddr
	resp.DeviceCount = status.DeviceCount
	resp.OnlineCount = status.OnlineCount
	resp.LiveActivities = status.LiveActivities
	return nil
}

func (s *service) DeviceRegister(req DeviceRegisterRequest, resp *DeviceRegisterResponse) error {
	deviceType := store.DeviceType(strings.ToLower(strings.TrimSpace(req.Type)))
	if deviceType == "" {
		deviceType = store.DeviceCustom
	}
	reg, err := s.daemon.Registry().Register(s.ctx, req.Name, deviceType, store.Capabilities{
		AudioInput:  req.AudioInput,
		AudioOutput: req.AudioOutput,
		Buttons:     req.Buttons,
		LEDs:        req.LEDs,
		Display:     req.Display,
	}, req.GroupID, req.Location)
	if err != nil {
		return err
	}
	resp.Device = deviceInfo(reg.Device)
	resp.Token = reg.Token
	return nil
}

func (s *service) DeviceList(req DeviceListRequest, resp *DeviceListResponse) error {
	devices, err := s.daemon.Registry().List(s.ctx, req.GroupID)
	if err != nil {
		return err
	}
	resp.Devices = make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		resp.Devices = append(resp.Devices, deviceInfo(device))
	}
	return nil
}

func (s *service) DeviceShow(req DeviceShowRequest, resp *DeviceShowResponse) error {
	device, err := s.daemon.Registry().Get(s.ctx, req.DeviceID)
	if err != nil {
		return err
	}
	resp.Device = deviceInfo(device)
	return nil
}

func (s *service) DeviceRetire(req DeviceRetireRequest, resp *DeviceRetireResponse) error {
	if err := s.daemon.Registry().Retire(s.ctx, req.DeviceID); err != nil {
		return err
	}
	resp.Retired = true
	return nil
}

func (s *service) PersonaList(_ PersonaListRequest, resp *PersonaListResponse) error {
	summaries, err := s.daemon.Personas().List(s.ctx)
	if err != nil {
		return err
	}
	resp.Personas = make([]PersonaSummary, 0, len(summaries))
	for _, summary := range summaries {
		resp.Personas = append(resp.Personas, PersonaSummary(summary))
	}
	return nil
}

func (s *service) PersonaShow(req PersonaShowRequest, resp *PersonaShowResponse) error {
	p, err := s.daemon.Personas().Load(s.ctx, req.PersonaID)
	if err != nil {
		return err
	}
	resp.ID = p.ID
	resp.Name = p.Name
	resp.Description = p.Description
	resp.Version = p.Version
	resp.Mode = string(p.Adaptation.Kind)
	resp.VoiceProvider = p.Voice.Provider
	resp.VoiceID = p.Voice.VoiceID
	resp.Language = p.Voice.Language
	resp.Tags = append(resp.Tags, p.Tags...)
	for _, trigger := range p.Triggers.Types {
		resp.Triggers = append(resp.Triggers, string(trigger))
	}
	return nil
}

func (s *service) PersonaSwitch(req PersonaSwitchRequest, resp *PersonaSwitchResponse) error {
	current := ""
	if device, err := s.daemon.Registry().Get(s.ctx, req.DeviceID); err == nil {
		current = device.ActivePersonaID
	}
	record, err := s.daemon.Personas().Switch(s.ctx, req.DeviceID, current, req.PersonaID)
	if err != nil {
		return err
	}
	resp.PersonaID = record.Persona.ID
	resp.PersonaVersion = record.Persona.Version
	resp.DurationMillis = record.Duration.Milliseconds()
	resp.WithinSLA = record.WithinSLA
	return nil
}

func (s *service) PersonaInvalidate(req PersonaInvalidateRequest, resp *PersonaInvalidateResponse) error {
	s.daemon.Personas().Invalidate(s.ctx, req.PersonaID)
	resp.Invalidated = true
	return nil
}

func (s *service) SessionCreate(req SessionCreateRequest, resp *SessionCreateResponse) error {
	created, err := s.daemon.Sessions().Create(s.ctx, req.DeviceID, req.PersonaID, req.UserID)
	if err != nil {
		return err
	}
	resp.Session = sessionInfo(created)
	return nil
}

func (s *service) SessionShow(req SessionShowRequest, resp *SessionShowResponse) error {
	found, err := s.daemon.Sessions().Get(s.ctx, req.SessionID)
	if err != nil {
		return err
	}
	resp.Session = sessionInfo(found)
	return nil
}

func (s *service) SessionEnd(req SessionEndRequest, resp *SessionEndResponse) error {
	if err := s.daemon.Sessions().End(s.ctx, req.SessionID); err != nil {
		return err
	}
	resp.Ended = true
	return nil
}

func (s *service) SessionTurn(req SessionTurnRequest, resp *SessionTurnResponse) error {
	role, ok := store.ParseTurnRole(req.Role)
	if !ok {
		return fmt.Errorf("unknown turn role %q", req.Role)
	}
	updated, err := s.daemon.Sessions().AppendTurn(s.ctx, req.SessionID, role, req.Content)
	if err != nil {
		return err
	}
	resp.TurnCount = len(updated.Turns)

	// An assistant turn is spoken aloud when the device is connected.
	if role == store.RoleAssistant {
		if err := s.daemon.Gateway().SendAudioResponse(updated.DeviceID, req.Content, updated.PersonaID, ""); err != nil {
			s.logger.Debug("assistant turn not delivered", logging.Error(err),
				logging.String(logging.FieldDeviceID, updated.DeviceID))
		}
	}
	return nil
}

func (s *service) Handoff(req HandoffRequest, resp *HandoffResponse) error {
	transferred, err := s.daemon.Handoffs().Initiate(s.ctx, req.SessionID, req.FromDeviceID, req.ToDeviceID)
	if err != nil {
		return err
	}
	resp.Session = sessionInfo(transferred)
	return nil
}

func (s *service) ActivityStart(req ActivityStartRequest, resp *ActivityStartResponse) error {
	activityType, ok := coordinator.ParseActivityType(req.Type)
	if !ok {
		return fmt.Errorf("unknown activity type %q", req.Type)
	}
	started, err := s.daemon.Activities().Start(s.ctx, activityType, req.DeviceIDs, req.PersonaID, req.Config)
	if err != nil {
		return err
	}
	resp.Activity = activityInfo(started)
	return nil
}

func (s *service) ActivityList(_ ActivityListRequest, resp *ActivityListResponse) error {
	activities := s.daemon.Activities().List()
	resp.Activities = make([]ActivityInfo, 0, len(activities))
	for _, activity := range activities {
		resp.Activities = append(resp.Activities, activityInfo(activity))
	}
	return nil
}

func (s *service) ActivityShow(req ActivityShowRequest, resp *ActivityShowResponse) error {
	activity, err := s.daemon.Activities().Get(req.ActivityID)
	if err != nil {
		return err
	}
	resp.Activity = activityInfo(activity)
	return nil
}

func (s *service) ActivityPause(req ActivityPauseRequest, resp *ActivityPauseResponse) error {
	activity, err := s.daemon.Activities().Pause(req.ActivityID)
	if err != nil {
		return err
	}
	resp.Activity = activityInfo(activity)
	return nil
}

func (s *service) ActivityResume(req ActivityResumeRequest, resp *ActivityResumeResponse) error {
	activity, err := s.daemon.Activities().Resume(req.ActivityID)
	if err != nil {
		return err
	}
	resp.Activity = activityInfo(activity)
	return nil
}

func (s *service) ActivityEnd(req ActivityEndRequest, resp *ActivityEndResponse) error {
	activity, err := s.daemon.Activities().End(req.ActivityID)
	if err != nil {
		return err
	}
	resp.Activity = activityInfo(activity)
	return nil
}

func (s *service) Round(req RoundRequest, resp *RoundResponse) error {
	activity, applied, err := s.daemon.Activities().RecordRound(req.ActivityID, req.DeviceID, req.RoundID, req.Delta)
	if err != nil {
		return err
	}
	resp.Applied = applied
	resp.Score = activity.Scores[req.DeviceID]
	return nil
}

func (s *service) SyncPlayback(req SyncPlaybackRequest, resp *SyncPlaybackResponse) error {
	if len(req.DeviceIDs) == 0 {
		return errors.New("sync playback requires at least one device")
	}
	offset := time.Duration(req.StartOffsetMS) * time.Millisecond
	resp.StartAt = s.daemon.Activities().SyncPlayback(req.DeviceIDs, req.MediaRef, offset)
	return nil
}

func (s *service) Alert(req AlertRequest, resp *AlertResponse) error {
	if strings.TrimSpace(req.Message) == "" {
		return errors.New("alert message is required")
	}
	s.daemon.Alert(req.Message, req.SourceDeviceID)
	resp.Sent = true
	return nil
}

func (s *service) Say(req SayRequest, resp *SayResponse) error {
	device, err := s.daemon.Registry().Get(s.ctx, req.DeviceID)
	if err != nil {
		return err
	}
	if err := s.daemon.Gateway().SendAudioResponse(device.ID, req.Text, device.ActivePersonaID, req.Priority); err != nil {
		return err
	}
	resp.Sent = true
	return nil
}

func deviceInfo(device *registry.Device) DeviceInfo {
	return DeviceInfo{
		ID:              device.ID,
		Name:            device.Name,
		Type:            string(device.Type),
		Status:          string(device.Status),
		GroupID:         device.GroupID,
		Location:        device.Location,
		ActivePersonaID: device.ActivePersonaID,
		ActiveSessionID: device.ActiveSessionID,
		LastHeartbeat:   device.LastHeartbeat,
		RegisteredAt:    device.RegisteredAt,
	}
}

func sessionInfo(s *session.Session) SessionInfo {
	info := SessionInfo{
		ID:        s.ID,
		DeviceID:  s.DeviceID,
		PersonaID: s.PersonaID,
		UserID:    s.UserID,
		State:     string(s.State),
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	for _, turn := range s.Turns {
		info.Turns = append(info.Turns, TurnInfo{
			Role:      string(turn.Role),
			Content:   turn.Content,
			PersonaID: turn.PersonaID,
			Timestamp: turn.Timestamp,
		})
	}
	for _, handoff := range s.Handoffs {
		info.Handoffs = append(info.Handoffs, HandoffInfo{
			From: handoff.FromDeviceID,
			To:   handoff.ToDeviceID,
			At:   handoff.At,
		})
	}
	return info
}

func activityInfo(activity *coordinator.Activity) ActivityInfo {
	info := ActivityInfo{
		ID:        activity.ID,
		Type:      string(activity.Type),
		State:     string(activity.State),
		PersonaID: activity.PersonaID,
		DeviceIDs: activity.DeviceIDs,
		Scores:    activity.Scores,
		StartedAt: activity.StartedAt,
	}
	for deviceID, flagged := range activity.NonResponsive {
		if flagged {
			info.NonResponsive = append(info.NonResponsive, deviceID)
		}
	}
	return info
}
