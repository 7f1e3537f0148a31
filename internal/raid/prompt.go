package raid

import (
	"sort"

	"github.com/google/uuid"

	"ecobot/internal/content"
)

// pickMechanic draws a mechanic from the phase pool weighted by Weight.
func (e *Engine) pickMechanic(ph content.Phase) content.Mechanic {
	pool := make([]content.Mechanic, 0, len(ph.Mechanics))
	total := 0
	for _, name := range ph.Mechanics {
		m, ok := e.tables.Mechanic(name)
		if !ok {
			continue
		}
		if m.Weight <= 0 {
			m.Weight = 1
		}
		pool = append(pool, m)
		total += m.Weight
	}
	if len(pool) == 0 {
		return content.Mechanic{Name: "strike", Role: string(RoleDamage), Weight: 1}
	}
	roll := e.rand.IntN(total)
	for _, m := range pool {
		if roll < m.Weight {
			return m
		}
		roll -= m.Weight
	}
	return pool[len(pool)-1]
}

// issuePromptLocked replaces the outstanding prompt and arms its timer.
func (e *Engine) issuePromptLocked(s *raidSession) {
	mech := e.pickMechanic(e.tables.Phases[s.phase])
	now := e.clock.Now()
	p := &activePrompt{Prompt: Prompt{
		ID:        uuid.NewString(),
		Mechanic:  mech.Name,
		Role:      Role(mech.Role),
		IssuedAt:  now,
		ExpiresAt: now.Add(e.cfg.PromptTimeout),
	}}
	s.prompt = p
	id, promptID := s.id, p.ID
	p.timer = e.clock.AfterFunc(e.cfg.PromptTimeout, func() { e.expirePrompt(id, promptID) })
	e.logf(s, "The boss prepares %s! A %s must answer.", mech.Name, mech.Role)
}

// takePromptLocked clears the outstanding prompt, disarms its timer and
// remembers who resolved it.
func (e *Engine) takePromptLocked(s *raidSession, responder string) Prompt {
	p := s.prompt
	s.prompt = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	s.resolved[p.ID] = responder
	return p.Prompt
}

func (e *Engine) succeedLocked(s *raidSession, m *Member, p Prompt) {
	weight := 1
	if mech, ok := e.tables.Mechanic(p.Mechanic); ok && mech.Weight > 0 {
		weight = mech.Weight
	}
	m.Contribution += weight
	s.progress++
	s.enrage = max(0, s.enrage-1)
	e.logf(s, "%s handled %s.", m.UserID, p.Mechanic)

	ph := e.tables.Phases[s.phase]
	if s.progress < ph.Threshold {
		return
	}
	if s.phase+1 >= len(e.tables.Phases) {
		s.status = StatusComplete
		e.logf(s, "%s cleared. The raid is victorious!", ph.Name)
		return
	}
	s.phase++
	s.progress = 0
	s.enrage = 0
	e.logf(s, "%s cleared. Next: %s.", ph.Name, e.tables.Phases[s.phase].Name)
}

// failLocked applies a missed or wrong answer: enrage grows and one standing
// member is downed.
func (e *Engine) failLocked(s *raidSession) {
	s.enrage++

	standing := make([]string, 0, len(s.members))
	for id, m := range s.members {
		if !m.Down {
			standing = append(standing, id)
		}
	}
	if len(standing) > 0 {
		sort.Strings(standing)
		victim := standing[e.rand.IntN(len(standing))]
		s.members[victim].Down = true
		e.logf(s, "%s is knocked down.", victim)
	}

	if limit := e.tables.Phases[s.phase].EnrageLimit; s.enrage >= limit {
		s.status = StatusFailed
		e.logf(s, "The boss is enraged. The raid has failed.")
	}
}
