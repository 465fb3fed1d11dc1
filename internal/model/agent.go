package model

import "fmt"

// AgentID identifies one of the four specialist agents.
type AgentID string

const (
	AgentAle  AgentID = "ale"  // regulatory
	AgentMerc AgentID = "merc" // market
	AgentPat  AgentID = "pat"  // patent
	AgentDex  AgentID = "dex"  // data science
)

// AllAgents is the dispatch order used by the orchestrator. The order is
// cosmetic; the agents run concurrently.
var AllAgents = []AgentID{AgentAle, AgentMerc, AgentPat, AgentDex}

// AgentInfo is the public descriptor of a specialist agent.
type AgentInfo struct {
	ID     AgentID `json:"id"`
	Name   string  `json:"name"`
	Domain string  `json:"domain"`
}

// AgentDirectory maps agent IDs to their display metadata.
var AgentDirectory = map[AgentID]AgentInfo{
	AgentAle:  {ID: AgentAle, Name: "Alê", Domain: "Regulatória"},
	AgentMerc: {ID: AgentMerc, Name: "Merc", Domain: "Mercado"},
	AgentPat:  {ID: AgentPat, Name: "Pat", Domain: "Patentes"},
	AgentDex:  {ID: AgentDex, Name: "Dex", Domain: "Dados e Ciência"},
}

// ValidateAgentID checks that an agent ID names a known specialist.
func ValidateAgentID(id AgentID) error {
	if _, ok := AgentDirectory[id]; !ok {
		return fmt.Errorf("unknown agent_id %q", id)
	}
	return nil
}
