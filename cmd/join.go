package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/easyclase/liveclass/internal/accessgate"
	"github.com/easyclase/liveclass/internal/application/config"
	"github.com/easyclase/liveclass/internal/application/constant"
	"github.com/easyclase/liveclass/internal/callsession"
	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/infra/ports/http/dto"
	"github.com/easyclase/liveclass/internal/infra/ports/http/middleware"
	"github.com/easyclase/liveclass/internal/signaling"
)

var (
	joinLessonID     string
	joinToken        string
	joinServerURL    string
	joinApproveShare bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a lesson call as a participant",
	Long: `Joins a lesson call from the terminal. Local media is read as RTP
from the configured UDP ports, so feed them with ffmpeg or gstreamer.

While in the call, type a line to send it as chat, or one of:
  /share     request (student) or start (teacher) screen sharing
  /unshare   stop screen sharing
  /video     toggle the camera
  /audio     toggle the microphone
  /quit      hang up`,
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&joinLessonID, "lesson", "", "lesson id to join")
	joinCmd.Flags().StringVar(&joinToken, "token", "", "JWT issued by the platform")
	joinCmd.Flags().StringVar(&joinServerURL, "server", "", "signaling server URL (overrides LIVECLASS_SERVER_URL)")
	joinCmd.Flags().BoolVar(&joinApproveShare, "approve-share", false, "teacher only: approve incoming screen share requests")

	_ = joinCmd.MarkFlagRequired("lesson")
	_ = joinCmd.MarkFlagRequired("token")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewTextHandler(
				os.Stderr,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	serverURL := cfg.Call.ServerURL
	if joinServerURL != "" {
		serverURL = joinServerURL
	}

	lessonID, err := uuid.Parse(joinLessonID)
	if err != nil {
		return fmt.Errorf("invalid lesson id: %w", err)
	}

	identity, err := identityFromToken(joinToken)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	slog.Info(
		"Joining lesson",
		slog.String(constant.LessonID, lessonID.String()),
		slog.String(constant.UserID, identity.UserID.String()),
		slog.String(constant.Role, string(identity.Role)),
	)

	client := &http.Client{Timeout: 10 * time.Second}

	lesson, err := fetchLesson(ctx, client, serverURL, joinToken, lessonID)
	if err != nil {
		return fmt.Errorf("fetch lesson: %w", err)
	}

	if err := waitForWindow(ctx, lesson); err != nil {
		return err
	}

	iceServers, err := fetchICEServers(ctx, client, serverURL, joinToken)
	if err != nil {
		slog.Warn("Could not fetch TURN credentials, using STUN only", slog.Any(constant.Error, err))
		iceServers = []webrtc.ICEServer{{URLs: []string{cfg.StunURL}}}
	}

	session, err := callsession.NewSession(callsession.Config{
		Lesson:   lesson,
		Identity: identity,
		Channel:  signaling.NewChannel(serverURL, joinToken),
		Devices: &callsession.UDPDevices{
			MicAddr:    cfg.Call.MicRTPAddr,
			CameraAddr: cfg.Call.CameraRTPAddr,
			ScreenAddr: cfg.Call.ScreenRTPAddr,
		},
		ICEServers:         iceServers,
		NegotiationTimeout: cfg.Call.NegotiationTimeout,
		ApproveShare: func(ev signaling.ShareRequestEvent) bool {
			slog.Info(
				"Screen share requested",
				slog.String(constant.UserID, ev.FromUserID.String()),
				slog.Bool("approved", joinApproveShare),
			)
			return joinApproveShare
		},
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printLifecycle(session)
	}()

	go readCommands(ctx, session)

	select {
	case <-ctx.Done():
		session.End()
		<-done
	case <-done:
	}

	for _, entry := range session.Transcript() {
		fmt.Printf("[%s] %s: %s\n", entry.SentAt.Format("15:04:05"), entry.Role, entry.Text)
	}

	return nil
}

// identityFromToken decodes the claims without verifying the signature.
// The server verifies on every request, the client only needs to know who
// it is acting as.
func identityFromToken(token string) (domain.Participant, error) {
	claims := &middleware.Claims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.Participant{}, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("token subject is not a user id: %w", err)
	}

	if claims.Role != domain.RoleTeacher && claims.Role != domain.RoleStudent {
		return domain.Participant{}, fmt.Errorf("unknown role %q in token", claims.Role)
	}

	return domain.Participant{UserID: userID, Role: claims.Role}, nil
}

// waitForWindow blocks until the lesson's join window opens, polling the
// gate locally against the fetched schedule.
func waitForWindow(ctx context.Context, lesson *domain.Lesson) error {
	for {
		decision := accessgate.CanJoinNow(lesson, time.Now())

		switch decision.Verdict {
		case accessgate.VerdictJoinable:
			return nil
		case accessgate.VerdictTooLate:
			return fmt.Errorf("lesson already ended at %s", lesson.ScheduledEnd().Format(time.RFC3339))
		case accessgate.VerdictUnavailable:
			return fmt.Errorf("lesson schedule is unavailable: %s", decision.Reason)
		}

		slog.Info(
			"Too early to join, waiting",
			slog.Int("minutes_remaining", decision.MinutesRemaining),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(15 * time.Second):
		}
	}
}

func printLifecycle(session *callsession.Session) {
	for ev := range session.Events() {
		switch ev.Kind {
		case callsession.LifecycleStarted:
			slog.Info("Call starting")
		case callsession.LifecycleConnected:
			slog.Info("Peer connected")
		case callsession.LifecycleEnded:
			slog.Info("Call ended", slog.String("reason", ev.Reason))
			return
		case callsession.LifecycleError:
			slog.Error(
				"Call error",
				slog.String("kind", string(ev.ErrorKind)),
				slog.String("detail", ev.Detail),
			)
			if ev.ErrorKind.Terminal() {
				return
			}
		}
	}
}

func readCommands(ctx context.Context, session *callsession.Session) {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			session.End()
			return
		case "/share":
			if err := session.RequestScreenShare(ctx); err != nil {
				slog.Warn("Screen share failed", slog.Any(constant.Error, err))
			}
		case "/unshare":
			if err := session.StopScreenShare(ctx); err != nil {
				slog.Warn("Stop screen share failed", slog.Any(constant.Error, err))
			}
		case "/video":
			enabled, ok := session.ToggleVideo()
			if ok {
				slog.Info("Camera toggled", slog.Bool("enabled", enabled))
			}
		case "/audio":
			enabled, ok := session.ToggleAudio()
			if ok {
				slog.Info("Microphone toggled", slog.Bool("enabled", enabled))
			}
		default:
			session.SendChat(line)
		}
	}
}

// fetchLesson loads the lesson schedule over the REST API so the gate can
// be evaluated client side before dialing the websocket.
func fetchLesson(ctx context.Context, client *http.Client, serverURL, token string, lessonID uuid.UUID) (*domain.Lesson, error) {
	var resp dto.LessonResponse

	path := fmt.Sprintf("/api/v1/lessons/%s", lessonID)
	if err := getJSON(ctx, client, serverURL, path, token, &resp); err != nil {
		return nil, err
	}

	return &domain.Lesson{
		ID:              resp.ID,
		TeacherID:       resp.TeacherID,
		StudentID:       resp.StudentID,
		ScheduledStart:  resp.ScheduledStart,
		DurationMinutes: resp.DurationMinutes,
	}, nil
}

func fetchICEServers(ctx context.Context, client *http.Client, serverURL, token string) ([]webrtc.ICEServer, error) {
	var resp dto.TurnCredentialsResponse

	if err := getJSON(ctx, client, serverURL, "/api/v1/ice", token, &resp); err != nil {
		return nil, err
	}

	server := webrtc.ICEServer{URLs: resp.URLs}
	if resp.Username != "" {
		server.Username = resp.Username
		server.Credential = resp.Password
	}

	return []webrtc.ICEServer{server}, nil
}

func getJSON(ctx context.Context, client *http.Client, serverURL, path, token string, out any) error {
	base, err := httpBaseURL(serverURL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s for %s", resp.Status, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// httpBaseURL maps the signaling URL scheme to its HTTP counterpart so the
// same flag covers both the websocket and the REST API.
func httpBaseURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	return strings.TrimRight(u.String(), "/"), nil
}
