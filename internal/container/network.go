package container

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types"
)

// insecureTransport returns an http.Transport that skips TLS verification,
// used only for https health polling when the caller passes
// verifyTLS=false (a challenge's GraderVerifyTLS or MinerVerifyTLS set to
// false), e.g. against self-signed certificates.
func insecureTransport() *http.Transport {
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
}

// EnsureNetwork creates the named bridge network if it does not already
// exist, then installs egress-drop / return-before-NAT iptables rules
// keyed on the network's IPAM subnet so containers attached to it cannot
// reach anything outside that subnet (spec section 4.B, "isolate miner
// submissions from the wider network"). No library in the retrieval pack
// wraps iptables, so this shells out to the binary directly -- the one
// deliberate stdlib/exec boundary in this component, documented in
// DESIGN.md.
func (e *DockerEngine) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := e.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return fmt.Errorf("container: list networks: %w", err)
	}

	var networkID string
	for _, n := range networks {
		if n.Name == name {
			networkID = n.ID
			break
		}
	}

	if networkID == "" {
		created, err := e.cli.NetworkCreate(ctx, name, types.NetworkCreate{
			Driver:     "bridge",
			Internal:   false,
			EnableIPv6: false,
			Options: map[string]string{
				"com.docker.network.bridge.enable_ip_masquerade": "true",
			},
		})
		if err != nil {
			return fmt.Errorf("container: create network %s: %w", name, err)
		}
		networkID = created.ID
	}

	subnet, err := e.networkSubnet(ctx, networkID)
	if err != nil {
		return fmt.Errorf("container: inspect network %s: %w", name, err)
	}

	return installEgressFirewall(subnet)
}

// networkSubnet inspects networkID and returns its first IPAM subnet in
// CIDR form, matching the original's `inspect_network(...)["IPAM"]["Config"][0]["Subnet"]`.
func (e *DockerEngine) networkSubnet(ctx context.Context, networkID string) (string, error) {
	info, err := e.cli.NetworkInspect(ctx, networkID, types.NetworkInspectOptions{})
	if err != nil {
		return "", err
	}
	if len(info.IPAM.Config) == 0 || info.IPAM.Config[0].Subnet == "" {
		return "", fmt.Errorf("network %s has no IPAM subnet", networkID)
	}
	return info.IPAM.Config[0].Subnet, nil
}

// installEgressFirewall drops forwarded traffic from subnet to any
// destination outside subnet, and returns subnet traffic before NAT so
// it is never masqueraded onto the public interface -- the exact two
// rules spec section 4.B's ensure_network names, grounded on the
// original's `_create_network` (redteam_core/challenge_pool/controller.py).
func installEgressFirewall(subnet string) error {
	rules := []firewallRule{
		{table: "", args: []string{"-I", "FORWARD", "-s", subnet, "!", "-d", subnet, "-j", "DROP"}},
		{table: "nat", args: []string{"-I", "POSTROUTING", "-s", subnet, "-j", "RETURN"}},
	}

	for _, rule := range rules {
		if rule.exists() {
			continue
		}
		if err := rule.install(); err != nil {
			return err
		}
	}
	return nil
}

// firewallRule is one iptables rule, optionally in a non-default table
// (e.g. "nat").
type firewallRule struct {
	table string
	args  []string
}

func (r firewallRule) fullArgs(verb []string) []string {
	args := make([]string, 0, len(r.args)+len(verb)+2)
	if r.table != "" {
		args = append(args, "-t", r.table)
	}
	args = append(args, verb...)
	args = append(args, r.args[1:]...)
	return args
}

// exists checks whether an equivalent "-C" (check) invocation of the
// rule already succeeds, making installEgressFirewall idempotent across
// restarts.
func (r firewallRule) exists() bool {
	args := r.fullArgs([]string{"-C"})
	return runIptables(args) == nil
}

// install runs the rule's insert command, attempting elevated privileges
// first and falling back to an unelevated invocation -- either
// succeeding is sufficient, per spec section 4.B's failure semantics and
// the original's sudo-then-bare fallback (controller.py's
// `_create_network`).
func (r firewallRule) install() error {
	args := r.fullArgs([]string{r.args[0]})

	sudoOut, sudoErr := exec.Command("sudo", append([]string{"iptables"}, args...)...).CombinedOutput()
	if sudoErr == nil {
		return nil
	}

	out, err := exec.Command("iptables", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables %v: sudo failed (%s), unelevated failed: %w (%s)",
			args, strings.TrimSpace(string(sudoOut)), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// runIptables runs `iptables <args...>` unelevated and returns its error,
// folding output into the error on failure. Used only for the idempotency
// check, which never needs privilege escalation.
func runIptables(args []string) error {
	out, err := exec.Command("iptables", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables %v: %w (%s)", args, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// TeardownNetwork removes the named network, tolerating "not found". A
// network that still has member containers is not removed and yields an
// error, so callers remove member containers first.
func (e *DockerEngine) TeardownNetwork(ctx context.Context, name string) error {
	err := e.cli.NetworkRemove(ctx, name)
	if err != nil && !strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("container: remove network %s: %w", name, err)
	}
	return nil
}
