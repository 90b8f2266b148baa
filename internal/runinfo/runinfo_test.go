package runinfo

import "testing"

var knownEnv = []string{
	"CI", "GITHUB_ACTIONS", "GITHUB_SERVER_URL", "GITHUB_REPOSITORY", "GITHUB_HEAD_REF",
	"GITHUB_REF_NAME", "GITHUB_REF", "GITHUB_SHA", "GITHUB_JOB", "GITHUB_RUN_ID",
	"GITLAB_CI", "BUILDKITE", "JENKINS_URL",
	"CI_PROJECT_PATH", "BUILDKITE_REPO", "CI_COMMIT_REF_NAME", "BUILDKITE_BRANCH", "BRANCH_NAME",
	"GIT_BRANCH", "CI_COMMIT_SHA", "BUILDKITE_COMMIT", "GIT_COMMIT", "CI_JOB_NAME",
	"BUILDKITE_LABEL", "JOB_NAME", "CI_PIPELINE_ID", "BUILDKITE_BUILD_ID", "BUILD_ID",
	"CI_JOB_URL", "BUILDKITE_BUILD_URL", "BUILD_URL", "MIRAGE_CI",
}

func clearKnownEnv(t *testing.T) {
	t.Helper()
	for _, key := range knownEnv {
		t.Setenv(key, "")
	}
	for _, o := range overrideFields {
		t.Setenv(o.key, "")
	}
}

func TestFromEnvGitHubActions(t *testing.T) {
	clearKnownEnv(t)
	t.Setenv("GITHUB_ACTIONS", "true")
	t.Setenv("GITHUB_REPOSITORY", "acme/warehouse")
	t.Setenv("GITHUB_HEAD_REF", "feature/skew")
	t.Setenv("GITHUB_REF", "refs/pull/108/merge")
	t.Setenv("GITHUB_SHA", "deadbeefcafebabe0123")
	t.Setenv("GITHUB_RUN_ID", "123456")

	info := FromEnv()
	if info == nil {
		t.Fatalf("expected run info")
	}
	if !info.CI || info.Provider != "github_actions" {
		t.Fatalf("ci=%v provider=%q", info.CI, info.Provider)
	}
	if info.PullRequest != "108" {
		t.Fatalf("pull_request=%q", info.PullRequest)
	}
	if info.BuildURL != "https://github.com/acme/warehouse/actions/runs/123456" {
		t.Fatalf("build_url=%q", info.BuildURL)
	}
	if got := info.String(); got != "github_actions acme/warehouse branch=feature/skew commit=deadbeefcafe run=123456" {
		t.Fatalf("summary=%q", got)
	}
	labels := info.Labels()
	if labels["run_id"] != "123456" || labels["provider"] != "github_actions" {
		t.Fatalf("labels=%v", labels)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearKnownEnv(t)
	t.Setenv("MIRAGE_CI_PROVIDER", "Manual")
	t.Setenv("MIRAGE_CI_BRANCH", "refs/heads/nightly")
	t.Setenv("MIRAGE_CI_RUN_ID", "run-77")

	info := FromEnv()
	if info == nil {
		t.Fatalf("expected run info")
	}
	if !info.CI {
		t.Fatalf("expected ci=true when overrides are set")
	}
	if info.Provider != "manual" || info.Branch != "nightly" || info.RunID != "run-77" {
		t.Fatalf("unexpected info %+v", *info)
	}
}

func TestFromEnvExplicitFalse(t *testing.T) {
	clearKnownEnv(t)
	t.Setenv("MIRAGE_CI", "false")
	t.Setenv("MIRAGE_CI_COMMIT", "abc123")

	info := FromEnv()
	if info == nil {
		t.Fatalf("expected run info")
	}
	if info.CI {
		t.Fatalf("expected ci=false")
	}
}

func TestFromEnvEmpty(t *testing.T) {
	clearKnownEnv(t)
	if info := FromEnv(); info != nil {
		t.Fatalf("expected nil run info, got %+v", *info)
	}
	var nilInfo *Info
	if nilInfo.String() != "local" || nilInfo.Labels() != nil {
		t.Fatalf("nil info helpers")
	}
}
