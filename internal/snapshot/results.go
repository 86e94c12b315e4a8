package snapshot

// Identity is a resolved driver identity
type Identity struct {
	SteamID string
	Name    string
}

// ParsedResult is a raw stage result with its driver identity resolved
// where possible. A nil Identity is an explicit ambiguous outcome, not an
// empty-string default.
type ParsedResult struct {
	Result
	Identity *Identity
}

// SessionParticipants returns the session's canonical participant sequence
// regardless of source encoding
func (s *Session) SessionParticipants() []Participant {
	return []Participant(s.Participants)
}

// ParsedStageResults resolves each raw result of the named stage.
// Resolution is a two-stage chain: the session's indexed participant list
// first, then a ref-id lookup over the member list. Results that resolve
// through neither are returned with a nil Identity rather than dropped.
// The second return value is false when the stage does not exist.
func (s *Session) ParsedStageResults(stageName string) ([]ParsedResult, bool) {
	stage, ok := s.Stages.Get(stageName)
	if !ok {
		return nil, false
	}

	byIndex := make(map[int]*Participant, len(s.Participants))
	for i := range s.Participants {
		byIndex[s.Participants[i].Index] = &s.Participants[i]
	}
	byRefID := make(map[int64]*Member, len(s.Members))
	for i := range s.Members {
		byRefID[s.Members[i].RefID] = &s.Members[i]
	}

	parsed := make([]ParsedResult, 0, len(stage.Results))
	for _, res := range stage.Results {
		parsed = append(parsed, ParsedResult{
			Result:   res,
			Identity: resolveIdentity(res, byIndex, byRefID),
		})
	}
	return parsed, true
}

// resolveIdentity runs the participant-index then member-ref-id fallback chain
func resolveIdentity(res Result, byIndex map[int]*Participant, byRefID map[int64]*Member) *Identity {
	if res.ParticipantIndex != nil {
		if p, ok := byIndex[*res.ParticipantIndex]; ok && p.SteamID != "" {
			return &Identity{SteamID: p.SteamID, Name: p.Name}
		}
	}
	if res.RefID != 0 {
		if m, ok := byRefID[res.RefID]; ok && m.SteamID != "" {
			return &Identity{SteamID: m.SteamID, Name: m.Name}
		}
	}
	return nil
}
