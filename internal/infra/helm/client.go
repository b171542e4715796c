package helm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/cli/values"
	"helm.sh/helm/v3/pkg/getter"
	"helm.sh/helm/v3/pkg/storage/driver"
	"k8s.io/cli-runtime/pkg/genericclioptions"

	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
)

// Client handles Helm release operations
type Client struct {
	settings *cli.EnvSettings
}

// NewClient creates a new Helm client using ambient settings
func NewClient() *Client {
	return &Client{settings: cli.New()}
}

// NewClientWithKubeconfig creates a new Helm client bound to a kubeconfig
func NewClientWithKubeconfig(kubeconfig string) *Client {
	settings := cli.New()
	if kubeconfig != "" {
		settings.KubeConfig = kubeconfig
	}
	return &Client{settings: settings}
}

// DeployedRevision returns the current revision of a release, 0 when the
// release does not exist.
func (h *Client) DeployedRevision(ctx context.Context, namespace, release string) (int, error) {
	actionConfig, err := h.getActionConfig(namespace)
	if err != nil {
		return 0, err
	}

	getClient := action.NewGet(actionConfig)
	rel, err := getClient.Run(release)
	if err != nil {
		if errors.Is(err, driver.ErrReleaseNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get release %s: %w", release, err)
	}
	return rel.Version, nil
}

// UpgradeOrInstall runs the equivalent of
// `helm upgrade --install --atomic --wait --cleanup-on-fail` and returns the
// new revision.
func (h *Client) UpgradeOrInstall(ctx context.Context, req domain.UpgradeRequest) (int, error) {
	actionConfig, err := h.getActionConfig(req.Namespace)
	if err != nil {
		return 0, err
	}

	chrt, err := loader.Load(req.Chart)
	if err != nil {
		return 0, fmt.Errorf("failed to load chart %s: %w", req.Chart, err)
	}

	valOpts := &values.Options{
		ValueFiles: req.ValuesFiles,
		Values:     flattenSetValues(req.SetValues),
	}
	vals, err := valOpts.MergeValues(getter.All(h.settings))
	if err != nil {
		return 0, fmt.Errorf("failed to merge values: %w", err)
	}

	histClient := action.NewHistory(actionConfig)
	histClient.Max = 1
	_, histErr := histClient.Run(req.Release)
	if histErr != nil && !errors.Is(histErr, driver.ErrReleaseNotFound) {
		return 0, fmt.Errorf("failed to read release history: %w", histErr)
	}

	if errors.Is(histErr, driver.ErrReleaseNotFound) {
		install := action.NewInstall(actionConfig)
		install.ReleaseName = req.Release
		install.Namespace = req.Namespace
		install.Atomic = true
		install.Wait = true
		install.Timeout = req.Timeout

		rel, err := install.RunWithContext(ctx, chrt, vals)
		if err != nil {
			return 0, fmt.Errorf("failed to install release %s: %w", req.Release, err)
		}
		return rel.Version, nil
	}

	upgrade := action.NewUpgrade(actionConfig)
	upgrade.Namespace = req.Namespace
	upgrade.Atomic = true
	upgrade.Wait = true
	upgrade.CleanupOnFail = true
	upgrade.Timeout = req.Timeout

	rel, err := upgrade.RunWithContext(ctx, req.Release, chrt, vals)
	if err != nil {
		return 0, fmt.Errorf("failed to upgrade release %s: %w", req.Release, err)
	}
	return rel.Version, nil
}

// Rollback reverts the release to a specific revision and waits for it.
func (h *Client) Rollback(ctx context.Context, namespace, release string, toRevision int) error {
	actionConfig, err := h.getActionConfig(namespace)
	if err != nil {
		return err
	}

	rollback := action.NewRollback(actionConfig)
	rollback.Version = toRevision
	rollback.Wait = true
	rollback.CleanupOnFail = true

	if err := rollback.Run(release); err != nil {
		return fmt.Errorf("failed to rollback release %s to revision %d: %w", release, toRevision, err)
	}
	return nil
}

// getActionConfig creates an action configuration for Helm operations
func (h *Client) getActionConfig(namespace string) (*action.Configuration, error) {
	actionConfig := new(action.Configuration)

	if namespace == "" {
		namespace = h.settings.Namespace()
	}

	configFlags := &genericclioptions.ConfigFlags{
		Namespace:  &namespace,
		KubeConfig: &h.settings.KubeConfig,
	}

	if err := actionConfig.Init(configFlags, namespace, "secret", log.Printf); err != nil {
		return nil, fmt.Errorf("failed to initialize action config: %w", err)
	}

	return actionConfig, nil
}

func flattenSetValues(set map[string]string) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, set[k]))
	}
	return out
}
