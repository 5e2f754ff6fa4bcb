//go:build !windows

package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/conduitrun/conduit"
)

// gracePeriod matches the other CLI runners' SIGTERM-then-SIGKILL budget
// (claudecli/codexcli's process.go-derived convention).
const gracePeriod = 5 * time.Second

const (
	defaultBinary    = "opencode"
	readinessTimeout = 10 * time.Second
	healthPollRate   = 5 // polls per second, rate-limited per oubliette's healthCheckDelay pattern
	maxStderrLines   = 12
	sessionTimeout   = 10 * time.Second
	promptTimeout    = 60 * time.Second
)

var listeningRE = regexp.MustCompile(`opencode server listening on (\S+)`)

// spawnedServer owns one "opencode serve" subprocess and its resolved
// base URL, grounded in oubliette's Server (adapted from container-exec
// to a directly-spawned child process).
type spawnedServer struct {
	cmd     *exec.Cmd
	baseURL string
	client  *http.Client // short-lived request/response calls
	sseHTTP *http.Client // no timeout: the SSE connection is long-lived, paced by ctx cancellation instead

	mu        sync.Mutex
	stderrBuf []string

	done chan struct{} // closed once cmd.Wait returns
}

// startServer spawns the CLI in serve mode, waits for the readiness
// marker on stdout, then confirms the server actually accepts
// connections with rate-limited health-check retries.
func startServer(ctx context.Context, binary string, extraEnv []string, workingDir string) (*spawnedServer, error) {
	cmd := exec.Command(binary, "serve", "--hostname", "127.0.0.1", "--port", "0")
	cmd.Dir = workingDir
	cmd.Env = buildEnv(extraEnv)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opencode: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opencode: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("opencode: start: %w", err)
	}

	srv := &spawnedServer{
		cmd:     cmd,
		client:  &http.Client{Timeout: 5 * time.Second},
		sseHTTP: &http.Client{},
		done:    make(chan struct{}),
	}
	go srv.drainStderr(stderr)
	go func() {
		_ = cmd.Wait()
		close(srv.done)
	}()

	readyCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	baseURL, err := waitForListening(readyCtx, stdout)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, &conduit.RunnerError{
			Kind:    conduit.KindTimeout,
			Code:    "opencode_start_timeout",
			Message: fmt.Sprintf("opencode server did not print a listening marker: %v (stderr: %v)", err, srv.stderrTail()),
			Err:     err,
		}
	}
	srv.baseURL = baseURL

	if err := srv.waitHealthy(readyCtx); err != nil {
		_ = cmd.Process.Kill()
		return nil, &conduit.RunnerError{
			Kind:    conduit.KindTimeout,
			Code:    "opencode_start_timeout",
			Message: fmt.Sprintf("opencode server did not become healthy: %v (stderr: %v)", err, srv.stderrTail()),
			Err:     err,
		}
	}

	return srv, nil
}

func buildEnv(extra []string) []string {
	env := []string{"NO_COLOR=1", "OPENCODE_CLIENT=conduit"}
	hasPermission := false
	for _, e := range extra {
		if strings.HasPrefix(e, "OPENCODE_PERMISSION=") {
			hasPermission = true
		}
	}
	if !hasPermission {
		env = append(env, `OPENCODE_PERMISSION={"*":"allow"}`)
	}
	env = append(env, extra...)
	return env
}

// waitForListening scans stdout until the readiness marker appears or ctx
// is done.
func waitForListening(ctx context.Context, stdout io.Reader) (string, error) {
	lines := make(chan string, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			if m := listeningRE.FindStringSubmatch(line); m != nil {
				lines <- m[1]
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	select {
	case url := <-lines:
		return url, nil
	case err := <-scanErr:
		if err == nil {
			err = fmt.Errorf("stdout closed before a listening marker was seen")
		}
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// waitHealthy polls the server's health endpoint, rate-limited per
// oubliette's healthCheckDelay pattern (adapted from a container-exec
// curl check to a direct HTTP GET).
func (s *spawnedServer) waitHealthy(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(healthPollRate), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/global/health", nil)
		if err == nil {
			resp, err := s.client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (s *spawnedServer) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.mu.Lock()
		s.stderrBuf = append(s.stderrBuf, scanner.Text())
		if len(s.stderrBuf) > maxStderrLines {
			s.stderrBuf = s.stderrBuf[len(s.stderrBuf)-maxStderrLines:]
		}
		s.mu.Unlock()
	}
}

func (s *spawnedServer) stderrTail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.stderrBuf))
	copy(out, s.stderrBuf)
	return out
}

// modelNotFound reports whether any captured stderr line names a
// provider/model-not-found vendor error.
func (s *spawnedServer) modelNotFound() bool {
	for _, line := range s.stderrTail() {
		if strings.Contains(line, "ProviderModelNotFoundError") || strings.Contains(line, "ModelNotFoundError") {
			return true
		}
	}
	return false
}

var (
	providerIDRE  = regexp.MustCompile(`providerID:\s*"([^"]*)"`)
	modelIDRE     = regexp.MustCompile(`modelID:\s*"([^"]*)"`)
	suggestionsRE = regexp.MustCompile(`suggestions:\s*\[([^\]]*)\]`)
)

// modelNotFoundDetails re-scans the captured stderr tail for the
// providerID/modelID/suggestions fields OpenCode prints alongside a
// model-not-found error. It returns ok=false if no error was seen or the
// provider/model pair could not be recovered from the captured lines.
func (s *spawnedServer) modelNotFoundDetails() (provider, model string, suggestions []string, ok bool) {
	lines := s.stderrTail()
	capturing := false
	for _, line := range lines {
		if strings.Contains(line, "ProviderModelNotFoundError") || strings.Contains(line, "ModelNotFoundError") {
			capturing = true
			provider, model = "", ""
			suggestions = nil
			continue
		}
		if !capturing {
			continue
		}
		if m := providerIDRE.FindStringSubmatch(line); m != nil {
			provider = m[1]
		}
		if m := modelIDRE.FindStringSubmatch(line); m != nil {
			model = m[1]
		}
		if m := suggestionsRE.FindStringSubmatch(line); m != nil {
			for _, s := range strings.Split(m[1], ",") {
				s = strings.Trim(strings.TrimSpace(s), `"`)
				if s != "" {
					suggestions = append(suggestions, s)
				}
			}
		}
	}
	return provider, model, suggestions, provider != "" && model != ""
}

func (s *spawnedServer) createSession(ctx context.Context, title string) (createSessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	var out createSessionResponse
	err := s.doJSON(ctx, http.MethodPost, "/session", createSessionRequest{Title: title}, &out)
	return out, err
}

func (s *spawnedServer) sendMessage(ctx context.Context, sessionID, text, model string) error {
	ctx, cancel := context.WithTimeout(ctx, promptTimeout)
	defer cancel()
	return s.doJSON(ctx, http.MethodPost, "/session/"+sessionID+"/message", sendMessageRequest{Text: text, Model: model}, nil)
}

func (s *spawnedServer) answerPermission(ctx context.Context, id, response string) error {
	return s.doJSON(ctx, http.MethodPost, "/permission/"+id, permissionResponseRequest{Response: response}, nil)
}

func (s *spawnedServer) replyQuestion(ctx context.Context, requestID string, answers [][]string) error {
	return s.doJSON(ctx, http.MethodPost, "/question/"+requestID+"/reply", questionReplyRequest{Answers: answers}, nil)
}

func (s *spawnedServer) rejectQuestion(ctx context.Context, requestID string) error {
	return s.doJSON(ctx, http.MethodPost, "/question/"+requestID+"/reject", nil, nil)
}

// getMessageText fetches a message's parts and concatenates its text
// parts, for a message that completed without ever streaming a
// message.part.updated delta.
func (s *spawnedServer) getMessageText(ctx context.Context, sessionID, messageID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	var out getMessageResponse
	if err := s.doJSON(ctx, http.MethodGet, "/session/"+sessionID+"/message/"+messageID, nil, &out); err != nil {
		return "", err
	}

	var text strings.Builder
	for _, raw := range out.Parts {
		var part messagePart
		if json.Unmarshal(raw, &part) != nil || part.Type != "text" {
			continue
		}
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func (s *spawnedServer) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opencode: %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (s *spawnedServer) subscribeEvents(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/event", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.sseHTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("opencode: GET /event: status %d: %s", resp.StatusCode, data)
	}
	return resp.Body, nil
}

func (s *spawnedServer) kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// terminate sends SIGTERM and waits up to gracePeriod for the server
// process to exit before sending SIGKILL, matching the other CLI
// runners' Stop contract.
func (s *spawnedServer) terminate(ctx context.Context) error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := signalProcess(s.cmd.Process, syscall.SIGTERM); err != nil {
		return s.kill()
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(gracePeriod):
		return s.kill()
	case <-ctx.Done():
		return s.kill()
	}
}

func signalProcess(proc *os.Process, sig os.Signal) error {
	if proc == nil {
		return nil
	}
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
