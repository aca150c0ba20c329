package normalize

import (
	"strings"

	"homeguard/internal/config"
	"homeguard/internal/model"
)

// ProfileSet classifies recognized face profiles as Friend or Foe, globally
// and per camera.
type ProfileSet struct {
	friends       map[string]struct{}
	foes          map[string]struct{}
	deviceFriends map[string]map[string]struct{}
	deviceFoes    map[string]map[string]struct{}
}

func BuildProfileSet(cfg config.FacesConfig) *ProfileSet {
	return &ProfileSet{
		friends:       buildProfileSet(cfg.Friends),
		foes:          buildProfileSet(cfg.Foes),
		deviceFriends: buildProfileMap(cfg.DeviceFriends),
		deviceFoes:    buildProfileMap(cfg.DeviceFoes),
	}
}

// Classify returns Foe before Friend so a profile listed on both is treated
// as a threat.
func (p *ProfileSet) Classify(deviceID, profileID string) string {
	if p.IsFoe(deviceID, profileID) {
		return model.FaceFoe
	}
	if p.IsFriend(deviceID, profileID) {
		return model.FaceFriend
	}
	return model.FaceUnknown
}

func (p *ProfileSet) IsFoe(deviceID, profileID string) bool {
	if p == nil {
		return false
	}
	return lookup(p.foes, p.deviceFoes, deviceID, normalizeProfileID(profileID))
}

func (p *ProfileSet) IsFriend(deviceID, profileID string) bool {
	if p == nil {
		return false
	}
	return lookup(p.friends, p.deviceFriends, deviceID, normalizeProfileID(profileID))
}

func lookup(global map[string]struct{}, perDevice map[string]map[string]struct{}, deviceID, id string) bool {
	if id == "" {
		return false
	}
	if _, ok := global[id]; ok {
		return true
	}
	if set, ok := perDevice[deviceID]; ok {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func buildProfileSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		id := normalizeProfileID(v)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func buildProfileMap(values map[string][]string) map[string]map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]map[string]struct{}, len(values))
	for device, list := range values {
		set := buildProfileSet(list)
		if len(set) == 0 {
			continue
		}
		out[device] = set
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeProfileID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
