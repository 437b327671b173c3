// Package docker implements the Scaling Adapter against a local Docker
// daemon: the fleet is the set of running containers of a configured image
// carrying the fleetwatch instance label. ScaleUp starts one more replica,
// ScaleDown stops the newest one.
package docker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/jpayne/fleetwatch/pkg/scaling"
)

// instanceLabel marks containers managed by this provider.
const instanceLabel = "io.fleetwatch.instance"

const stopTimeoutSeconds = 30

// ProviderConfig describes the replica template.
type ProviderConfig struct {
	// Image is the replica image, e.g. "myorg/api:latest".
	Image string
	// Fleet tags the label value so multiple fleets can share a daemon.
	Fleet string
	// Env is passed to each replica.
	Env []string
	// ContainerPort, when non-zero, is exposed on an ephemeral host port.
	ContainerPort int
}

// Provider implements scaling.Provider on the Docker SDK.
type Provider struct {
	cli    *dockerclient.Client
	config ProviderConfig
}

// NewProvider creates a Provider configured from the environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH, DOCKER_API_VERSION).
func NewProvider(config ProviderConfig) (*Provider, error) {
	if config.Image == "" {
		return nil, fmt.Errorf("docker provider: image is required")
	}
	if config.Fleet == "" {
		config.Fleet = "default"
	}

	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Provider{cli: cli, config: config}, nil
}

func (p *Provider) fleetFilter() filters.Args {
	return filters.NewArgs(
		filters.Arg("label", instanceLabel+"="+p.config.Fleet),
	)
}

// GetInstanceCount counts running replicas of this fleet.
func (p *Provider) GetInstanceCount(ctx context.Context) (int, error) {
	list, err := p.cli.ContainerList(ctx, container.ListOptions{
		Filters: p.fleetFilter(),
	})
	if err != nil {
		return 0, fmt.Errorf("docker ContainerList: %w", err)
	}
	return len(list), nil
}

// ScaleUp creates and starts one replica.
func (p *Provider) ScaleUp(ctx context.Context, rule scaling.ScalingRule) error {
	name := fmt.Sprintf("fleetwatch-%s-%s", p.config.Fleet, uuid.New().String()[:8])

	cfg := &container.Config{
		Image: p.config.Image,
		Env:   p.config.Env,
		Labels: map[string]string{
			instanceLabel:           p.config.Fleet,
			"io.fleetwatch.rule_id": rule.ID,
			"io.fleetwatch.started": time.Now().UTC().Format(time.RFC3339),
		},
	}
	hostCfg := &container.HostConfig{}

	if p.config.ContainerPort > 0 {
		port := nat.Port(fmt.Sprintf("%d/tcp", p.config.ContainerPort))
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		// Empty HostPort lets the daemon pick an ephemeral port, so
		// replicas never collide.
		hostCfg.PortBindings = nat.PortMap{port: []nat.PortBinding{{HostPort: ""}}}
	}

	resp, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("docker ContainerCreate: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Remove the created container so it doesn't linger half-made.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = p.cli.ContainerRemove(cleanupCtx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("docker ContainerStart: %w", err)
	}
	return nil
}

// ScaleDown stops and removes the most recently created replica.
func (p *Provider) ScaleDown(ctx context.Context, rule scaling.ScalingRule) error {
	list, err := p.cli.ContainerList(ctx, container.ListOptions{
		Filters: p.fleetFilter(),
	})
	if err != nil {
		return fmt.Errorf("docker ContainerList: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("no running replicas in fleet %q", p.config.Fleet)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Created > list[j].Created
	})
	victim := list[0].ID

	timeout := stopTimeoutSeconds
	if err := p.cli.ContainerStop(ctx, victim, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("docker ContainerStop: %w", err)
	}
	if err := p.cli.ContainerRemove(context.Background(), victim, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("docker ContainerRemove: %w", err)
	}
	return nil
}

var _ scaling.Provider = (*Provider)(nil)
