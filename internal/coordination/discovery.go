// Package coordination implements the agent-side half of the coordination
// protocol: discovery announcements, heartbeat publishing, and delegation
// routing between peer agents through the hub's bus. Adapted from
// internal/agents/heartbeat's Monitor/Token pattern and
// internal/multiagent/handoff_tool.go's peer-delegation shape, rebuilt over
// this fabric's bus subjects instead of the teacher's in-process
// Orchestrator so agents in separate processes can discover and delegate to
// each other.
package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// DiscoverySubject is where every agent announces online/offline status.
const DiscoverySubject = "jarvis.agents.discovery"

// Announcer publishes DiscoveryEvents for one agent identity.
type Announcer struct {
	bus      bus.Interface
	identity models.AgentIdentity
}

// NewAnnouncer builds an Announcer for identity.
func NewAnnouncer(b bus.Interface, identity models.AgentIdentity) *Announcer {
	return &Announcer{bus: b, identity: identity}
}

// AnnounceOnline publishes a discovery event with status "idle" (an agent
// announces itself ready for work, not merely "starting").
func (a *Announcer) AnnounceOnline(ctx context.Context) error {
	return a.publish(ctx, models.AgentIdle)
}

// AnnounceOffline publishes a discovery event with status "offline",
// called from shutdown so the hub doesn't wait for a heartbeat timeout to
// learn the agent is gone.
func (a *Announcer) AnnounceOffline(ctx context.Context) error {
	return a.publish(ctx, models.AgentOffline)
}

func (a *Announcer) publish(ctx context.Context, status models.AgentStatus) error {
	host, _ := os.Hostname()
	event := models.DiscoveryEvent{
		Type:    "discovery",
		AgentID: a.identity.ID,
		Role:    a.identity.Role,
		Host:    host,
		IP:      localIP(),
		Status:  status,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("coordination: marshal discovery event: %w", err)
	}
	return a.bus.Publish(ctx, DiscoverySubject, payload)
}

// localIP best-effort resolves the outbound interface's address; an empty
// string is an acceptable fallback since IP is informational only.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// StatusSubject is where an agent publishes its periodic heartbeat.
func StatusSubject(agentID string) string {
	return bus.Subject("jarvis", "agent", agentID, "status")
}
