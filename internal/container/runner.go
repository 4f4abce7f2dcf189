// Package container drives the container engine on behalf of the
// challenge controller (spec section 4.B): building images, running
// detached containers with resource limits, polling health, tearing down,
// and isolating miner submissions onto a private, egress-firewalled
// network.
package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/tungdop2/RedTeam/internal/vlog"
)

var logger = vlog.Default().Module("container")

// RunOptions mirrors spec section 4.B's run(tag, options) contract.
type RunOptions struct {
	Name        string
	HostPort    int
	PortProto   string // "tcp" by default
	CPUs        float64
	MemoryBytes int64
	Env         map[string]string
	NetworkName string
	GPUIDs      []string
	Hostname    string
}

// Handle is an opaque reference to a running container, returned by Run.
type Handle struct {
	ID   string
	Name string
}

// Engine is the low-level driver contract spec section 4.B describes.
// Production code uses DockerEngine; tests use a hand-written fake, per
// SPEC_FULL.md section 10.4 (no mocking framework for this boundary).
type Engine interface {
	Build(ctx context.Context, dir, tag string) error
	Run(ctx context.Context, tag string, opts RunOptions) (*Handle, error)
	RemoveByName(ctx context.Context, name string) error
	RemoveByPort(ctx context.Context, port int) error
	EnsureNetwork(ctx context.Context, name string) error
	WaitHealthy(ctx context.Context, port int, scheme string, verifyTLS bool, timeout time.Duration) bool
}

// DockerEngine implements Engine against a real Docker daemon via the
// official client SDK.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine connects to the Docker daemon using the standard
// environment-derived configuration (DOCKER_HOST, DOCKER_TLS_VERIFY, ...).
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("container: connect to docker: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

// Build builds a local image tagged tag from the Dockerfile in dir (spec
// section 4.B). Build failure is fatal to the current challenge only,
// per spec section 4.B's failure semantics -- callers decide that, this
// method just reports the error.
func (e *DockerEngine) Build(ctx context.Context, dir, tag string) error {
	buildCtx, err := tarDirectory(dir)
	if err != nil {
		return fmt.Errorf("container: tar build context: %w", err)
	}

	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("container: build %s: %w", tag, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("container: read build output for %s: %w", tag, err)
	}
	return nil
}

// tarDirectory packages dir as a tar stream suitable for ImageBuild's
// build context argument.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	defer tw.Close()

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &buf, nil
}

// Run starts tag detached with the given options (spec section 4.B).
func (e *DockerEngine) Run(ctx context.Context, tag string, opts RunOptions) (*Handle, error) {
	proto := opts.PortProto
	if proto == "" {
		proto = "tcp"
	}
	containerPort, err := nat.NewPort(proto, fmt.Sprintf("%d", opts.HostPort))
	if err != nil {
		return nil, fmt.Errorf("container: invalid port %d: %w", opts.HostPort, err)
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	var deviceRequests []container.DeviceRequest
	if len(opts.GPUIDs) > 0 {
		deviceRequests = append(deviceRequests, container.DeviceRequest{
			Driver:       "nvidia",
			DeviceIDs:    opts.GPUIDs,
			Capabilities: [][]string{{"gpu"}},
		})
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", opts.HostPort)}},
		},
		Resources: container.Resources{
			NanoCPUs:       int64(opts.CPUs * 1e9),
			Memory:         opts.MemoryBytes,
			DeviceRequests: deviceRequests,
		},
		NetworkMode: container.NetworkMode(opts.NetworkName),
	}

	created, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:        tag,
		Env:          env,
		Hostname:     opts.Hostname,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}, hostConfig, &network.NetworkingConfig{}, nil, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("container: create %s: %w", tag, err)
	}

	if err := e.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("container: start %s: %w", tag, err)
	}

	logger.Debug("container started", "name", opts.Name, "tag", tag, "port", opts.HostPort)
	return &Handle{ID: created.ID, Name: opts.Name}, nil
}

// RemoveByName stops and force-removes a container by name, tolerating
// "no such container" (spec section 4.B, idempotent teardown).
func (e *DockerEngine) RemoveByName(ctx context.Context, name string) error {
	err := e.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container: remove %s: %w", name, err)
	}
	return nil
}

// RemoveByPort stops and removes whichever container currently holds
// hostPort, tolerating none holding it (spec section 4.B, 4.C step 4.b,
// and section 5's port-clearing discipline).
func (e *DockerEngine) RemoveByPort(ctx context.Context, hostPort int) error {
	containers, err := e.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return fmt.Errorf("container: list containers: %w", err)
	}

	portStr := fmt.Sprintf("%d", hostPort)
	for _, c := range containers {
		for _, p := range c.Ports {
			if fmt.Sprintf("%d", p.PublicPort) == portStr {
				if err := e.cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
					return fmt.Errorf("container: remove container holding port %d: %w", hostPort, err)
				}
			}
		}
	}
	return nil
}

// WaitHealthy polls {scheme}://localhost:{port}/health until it returns
// 200 or timeout elapses (spec section 4.B).
func (e *DockerEngine) WaitHealthy(ctx context.Context, port int, scheme string, verifyTLS bool, timeout time.Duration) bool {
	return pollHealth(ctx, port, scheme, verifyTLS, timeout)
}

func pollHealth(ctx context.Context, port int, scheme string, verifyTLS bool, timeout time.Duration) bool {
	hc := &http.Client{Timeout: 2 * time.Second}
	if scheme == "https" && !verifyTLS {
		hc.Transport = insecureTransport()
	}

	url := fmt.Sprintf("%s://localhost:%d/health", scheme, port)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := hc.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return true
				}
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return false
}
