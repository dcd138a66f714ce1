package topology

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Environment variables that carry cross-process connection contracts.
const (
	envDatabaseDSN = "SPIMEX_DATABASE_DSN"
	envRedisURL    = "SPIMEX_REDIS_URL"
)

var discreteDBVars = []string{"DB_HOST", "DB_NAME", "DB_USER", "DB_PASSWORD"}

// Validate checks the deployment contracts of the topology:
//
//   - every depends_on entry names a defined service
//   - every named volume a service mounts is declared top-level
//   - every Redis URL points at a service in the topology, and that
//     service does not publish host ports (the broker stays internal)
//   - every database DSN points at a service in the topology
//   - no service mixes the DSN shape with the discrete DB_* shape, and
//     a discrete shape is either absent or complete
//
// All violations are reported together.
func (t *Topology) Validate() error {
	var issues []string

	for _, name := range t.serviceNames() {
		svc := t.Services[name]
		issues = append(issues, t.checkDependencies(name, svc)...)
		issues = append(issues, t.checkVolumes(name, svc)...)
		issues = append(issues, t.checkRedisContract(name, svc)...)
		issues = append(issues, t.checkDatabaseContract(name, svc)...)
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid topology:\n  - %s", strings.Join(issues, "\n  - "))
	}
	return nil
}

func (t *Topology) serviceNames() []string {
	names := make([]string, 0, len(t.Services))
	for name := range t.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Topology) checkDependencies(name string, svc Service) []string {
	var issues []string
	for _, dep := range svc.DependsOn {
		if _, ok := t.Services[dep]; !ok {
			issues = append(issues, fmt.Sprintf("service %q depends on undefined service %q", name, dep))
		}
	}
	return issues
}

func (t *Topology) checkVolumes(name string, svc Service) []string {
	var issues []string
	for _, mount := range svc.Volumes {
		source, _, ok := strings.Cut(mount, ":")
		if !ok {
			issues = append(issues, fmt.Sprintf("service %q has malformed volume mount %q", name, mount))
			continue
		}
		// Bind mounts (paths) are not named volumes.
		if strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".") {
			continue
		}
		if _, ok := t.Volumes[source]; !ok {
			issues = append(issues, fmt.Sprintf("service %q mounts undeclared volume %q", name, source))
		}
	}
	return issues
}

func (t *Topology) checkRedisContract(name string, svc Service) []string {
	raw, ok := svc.Environment[envRedisURL]
	if !ok {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return []string{fmt.Sprintf("service %q has malformed %s %q", name, envRedisURL, raw)}
	}

	host := parsed.Hostname()
	broker, ok := t.Services[host]
	if !ok {
		return []string{fmt.Sprintf("service %q points %s at %q, which is not a service in the topology", name, envRedisURL, host)}
	}
	if len(broker.Ports) > 0 {
		return []string{fmt.Sprintf("broker service %q must not publish host ports", host)}
	}
	return nil
}

func (t *Topology) checkDatabaseContract(name string, svc Service) []string {
	var issues []string

	dsn, hasDSN := svc.Environment[envDatabaseDSN]
	var discrete []string
	for _, v := range discreteDBVars {
		if _, ok := svc.Environment[v]; ok {
			discrete = append(discrete, v)
		}
	}

	if hasDSN && len(discrete) > 0 {
		issues = append(issues, fmt.Sprintf(
			"service %q sets both %s and the discrete shape (%s); pick one",
			name, envDatabaseDSN, strings.Join(discrete, ", ")))
	}
	if !hasDSN && len(discrete) > 0 && len(discrete) < len(discreteDBVars) {
		issues = append(issues, fmt.Sprintf(
			"service %q has an incomplete discrete database shape: only %s set",
			name, strings.Join(discrete, ", ")))
	}

	if hasDSN {
		parsed, err := url.Parse(dsn)
		if err != nil {
			issues = append(issues, fmt.Sprintf("service %q has malformed %s", name, envDatabaseDSN))
		} else if _, ok := t.Services[parsed.Hostname()]; !ok {
			issues = append(issues, fmt.Sprintf(
				"service %q points %s at %q, which is not a service in the topology",
				name, envDatabaseDSN, parsed.Hostname()))
		}
	}
	return issues
}
