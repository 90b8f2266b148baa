// Package runinfo captures where a generation run happened, for the run
// manifest, metric labels and log headers.
package runinfo

import (
	"os"
	"regexp"
	"strings"
)

var githubPullRefPattern = regexp.MustCompile(`^refs/pull/([0-9]+)/`)

// Info is CI and host metadata of one run.
type Info struct {
	CI          bool   `json:"ci,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Repository  string `json:"repository,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Commit      string `json:"commit,omitempty"`
	Job         string `json:"job,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	PullRequest string `json:"pull_request,omitempty"`
	BuildURL    string `json:"build_url,omitempty"`
	Host        string `json:"host,omitempty"`
}

// FromEnv reads run metadata from the environment. MIRAGE_CI_* variables take
// precedence over provider defaults. It returns nil outside CI when nothing
// was set.
func FromEnv() *Info {
	info := detectProvider()
	explicitCI, explicit := applyOverrides(&info)
	normalize(&info, explicitCI)
	if !info.CI && !explicit && info.Repository == "" && info.Commit == "" {
		return nil
	}
	info.Host, _ = os.Hostname()
	return &info
}

// Labels returns the fields worth attaching to exported metrics.
func (i *Info) Labels() map[string]string {
	if i == nil {
		return nil
	}
	out := map[string]string{}
	for key, value := range map[string]string{
		"provider": i.Provider,
		"branch":   i.Branch,
		"commit":   i.Commit,
		"run_id":   i.RunID,
	} {
		if value != "" {
			out[key] = value
		}
	}
	return out
}

// String renders a one-line summary for logs.
func (i *Info) String() string {
	if i == nil {
		return "local"
	}
	parts := []string{i.Provider}
	if i.Repository != "" {
		parts = append(parts, i.Repository)
	}
	if i.Branch != "" {
		parts = append(parts, "branch="+i.Branch)
	}
	if i.Commit != "" {
		parts = append(parts, "commit="+shortCommit(i.Commit))
	}
	if i.RunID != "" {
		parts = append(parts, "run="+i.RunID)
	}
	return strings.Join(parts, " ")
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

func detectProvider() Info {
	info := Info{}
	switch {
	case isTruthy(env("GITHUB_ACTIONS")):
		info.CI = true
		info.Provider = "github_actions"
		info.Repository = env("GITHUB_REPOSITORY")
		info.Branch = envFirst("GITHUB_HEAD_REF", "GITHUB_REF_NAME")
		info.Commit = env("GITHUB_SHA")
		info.Job = env("GITHUB_JOB")
		info.RunID = env("GITHUB_RUN_ID")
		info.PullRequest = githubPullRequestFromRef(env("GITHUB_REF"))
		serverURL := env("GITHUB_SERVER_URL")
		if serverURL == "" {
			serverURL = "https://github.com"
		}
		if info.Repository != "" && info.RunID != "" {
			info.BuildURL = strings.TrimRight(serverURL, "/") + "/" + info.Repository + "/actions/runs/" + info.RunID
		}
	case isTruthy(env("GITLAB_CI")):
		info.CI = true
		info.Provider = "gitlab_ci"
	case isTruthy(env("BUILDKITE")):
		info.CI = true
		info.Provider = "buildkite"
	case env("JENKINS_URL") != "":
		info.CI = true
		info.Provider = "jenkins"
	case isTruthy(env("CI")):
		info.CI = true
	}

	setIfEmpty(&info.Repository, envFirst("CI_PROJECT_PATH", "BUILDKITE_REPO"))
	setIfEmpty(&info.Branch, envFirst("CI_COMMIT_REF_NAME", "BUILDKITE_BRANCH", "BRANCH_NAME", "GIT_BRANCH"))
	setIfEmpty(&info.Commit, envFirst("CI_COMMIT_SHA", "BUILDKITE_COMMIT", "GIT_COMMIT"))
	setIfEmpty(&info.Job, envFirst("CI_JOB_NAME", "BUILDKITE_LABEL", "JOB_NAME"))
	setIfEmpty(&info.RunID, envFirst("CI_PIPELINE_ID", "BUILDKITE_BUILD_ID", "BUILD_ID"))
	setIfEmpty(&info.BuildURL, envFirst("CI_JOB_URL", "BUILDKITE_BUILD_URL", "BUILD_URL"))
	return info
}

var overrideFields = []struct {
	key   string
	field func(*Info) *string
}{
	{"MIRAGE_CI_PROVIDER", func(i *Info) *string { return &i.Provider }},
	{"MIRAGE_CI_REPOSITORY", func(i *Info) *string { return &i.Repository }},
	{"MIRAGE_CI_BRANCH", func(i *Info) *string { return &i.Branch }},
	{"MIRAGE_CI_COMMIT", func(i *Info) *string { return &i.Commit }},
	{"MIRAGE_CI_JOB", func(i *Info) *string { return &i.Job }},
	{"MIRAGE_CI_RUN_ID", func(i *Info) *string { return &i.RunID }},
	{"MIRAGE_CI_PULL_REQUEST", func(i *Info) *string { return &i.PullRequest }},
	{"MIRAGE_CI_BUILD_URL", func(i *Info) *string { return &i.BuildURL }},
}

// applyOverrides returns whether MIRAGE_CI itself was set and whether any
// override was applied.
func applyOverrides(info *Info) (explicitCI, explicit bool) {
	if v, ok := lookupTrimmed("MIRAGE_CI"); ok && v != "" {
		info.CI = isTruthy(v)
		explicitCI, explicit = true, true
	}
	for _, o := range overrideFields {
		if v, ok := lookupTrimmed(o.key); ok && v != "" {
			*o.field(info) = v
			explicit = true
		}
	}
	if explicit && !explicitCI {
		info.CI = true
	}
	return explicitCI, explicit
}

func normalize(info *Info, explicitCI bool) {
	info.Provider = strings.ToLower(strings.TrimSpace(info.Provider))
	info.Branch = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(info.Branch), "refs/heads/"), "origin/")
	if !explicitCI && !info.CI && (info.Repository != "" || info.Commit != "") {
		info.CI = true
	}
	if info.CI && info.Provider == "" {
		info.Provider = "generic"
	}
}

func githubPullRequestFromRef(ref string) string {
	m := githubPullRefPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envFirst(keys ...string) string {
	for _, key := range keys {
		if value := env(key); value != "" {
			return value
		}
	}
	return ""
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
