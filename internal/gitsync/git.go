package gitsync

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/models"
)

// credentialUser is the fixed principal paired with the user's token.
const credentialUser = "oauth2"

// GitError is a failed git invocation with its combined output.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s failed: %v\n%s", strings.Join(e.Args, " "), e.Err, out)
}

// Unwrap lets callers match both apperr.ErrExternalTool and the exec error.
func (e *GitError) Unwrap() []error {
	return []error{apperr.ErrExternalTool, e.Err}
}

// runner executes git in one directory with a fixed environment.
type runner struct {
	bin string
	dir string
	env []string
}

func (r runner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = r.dir
	cmd.Env = r.env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), &GitError{Args: args, Output: string(out), Err: err}
	}
	return string(out), nil
}

// ok runs a query command and reports only whether it succeeded.
func (r runner) ok(ctx context.Context, args ...string) bool {
	_, err := r.run(ctx, args...)
	return err == nil
}

// output runs a command and returns its trimmed output.
func (r runner) output(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, args...)
	return strings.TrimSpace(out), err
}

// baseEnv disables prompts and optional locks so read-only commands never
// contend with a running sync.
func baseEnv() []string {
	return append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_OPTIONAL_LOCKS=0",
		"LC_ALL=C",
	)
}

// syncEnv adds the commit identity and the credential header. The token is
// passed through GIT_CONFIG_* variables so it never appears on the command
// line or in .git/config.
func syncEnv(u models.User) []string {
	name := "User-" + strconv.FormatInt(u.ID, 10)
	email := "user" + strconv.FormatInt(u.ID, 10) + "@example.com"
	basic := base64.StdEncoding.EncodeToString([]byte(credentialUser + ":" + u.GitAuthToken))

	cfg := [][2]string{
		{"http.extraHeader", "Authorization: Basic " + basic},
		{"commit.gpgsign", "false"},
		{"core.quotepath", "false"},
	}
	env := append(baseEnv(),
		"GIT_AUTHOR_NAME="+name,
		"GIT_AUTHOR_EMAIL="+email,
		"GIT_COMMITTER_NAME="+name,
		"GIT_COMMITTER_EMAIL="+email,
		"GIT_CONFIG_COUNT="+strconv.Itoa(len(cfg)),
	)
	for i, kv := range cfg {
		env = append(env,
			fmt.Sprintf("GIT_CONFIG_KEY_%d=%s", i, kv[0]),
			fmt.Sprintf("GIT_CONFIG_VALUE_%d=%s", i, kv[1]),
		)
	}
	return env
}
