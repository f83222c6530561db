package config

import (
	"fmt"

	"plexpush/internal/rules"
)

// RuleSpecs converts the action sets to rule specs in file order.
func (s *Settings) RuleSpecs() ([]rules.Spec, error) {
	if s == nil {
		return nil, nil
	}
	out := make([]rules.Spec, 0, len(s.NotificationActionSets))
	for i, rc := range s.NotificationActionSets {
		w, err := rc.Window()
		if err != nil {
			return nil, fmt.Errorf("notification_action_sets[%d].%w", i, err)
		}
		out = append(out, rules.Spec{
			Name:             rc.Name,
			Players:          rc.Players,
			EventTypes:       rc.EventTypes,
			MediaTypes:       rc.MediaTypes,
			NotificationName: rc.NotificationName,
			ThrottleKey:      rc.ThrottleKey,
			ThrottleWindow:   w,
			TitleOverride:    rc.Title,
			Extra:            rc.NotificationPayload,
		})
	}
	return out, nil
}

// Rules builds the immutable rule store.
func (s *Settings) Rules() (*rules.Store, error) {
	specs, err := s.RuleSpecs()
	if err != nil {
		return nil, err
	}
	return rules.NewStore(specs...), nil
}
