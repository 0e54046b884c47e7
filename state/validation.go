package state

import (
	"fmt"
	"regexp"
	"slices"
)

var namePattern = regexp.MustCompile("^[0-9a-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func LocalConfigValidator(cfg *LocalCfg) error {
	return NameValidator(string(cfg.Id))
}

func CentralConfigValidator(cfg *CentralCfg) error {
	if len(cfg.Scopes) == 0 {
		return fmt.Errorf("at least one scope must be defined")
	}
	backbones := 0
	for _, s := range cfg.Scopes {
		if err := NameValidator(string(s.Id)); err != nil {
			return err
		}
		if s.Backbone {
			backbones++
		}
	}
	if backbones > 1 {
		return fmt.Errorf("at most one backbone scope may be defined")
	}
	if len(cfg.Scopes) > 1 && backbones == 0 {
		return fmt.Errorf("multiple scopes require a backbone scope")
	}

	scopeIds := make([]ScopeId, 0, len(cfg.Scopes))
	for _, s := range cfg.Scopes {
		if slices.Contains(scopeIds, s.Id) {
			return fmt.Errorf("duplicate scope: %s", s.Id)
		}
		scopeIds = append(scopeIds, s.Id)
	}

	nodeIds := make([]NodeId, 0, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		if err := NameValidator(string(node.Id)); err != nil {
			return err
		}
		if slices.Contains(nodeIds, node.Id) {
			return fmt.Errorf("duplicate node: %s", node.Id)
		}
		nodeIds = append(nodeIds, node.Id)
		if len(node.Scopes) == 0 {
			return fmt.Errorf("node %s belongs to no scope", node.Id)
		}
		for _, s := range node.Scopes {
			if !slices.Contains(scopeIds, s) {
				return fmt.Errorf("node %s references undefined scope %s", node.Id, s)
			}
		}
	}

	edges, err := cfg.Edges()
	if err != nil {
		return err
	}
	for _, e := range edges {
		if !slices.Contains(nodeIds, e.V1) || !slices.Contains(nodeIds, e.V2) {
			return fmt.Errorf("circuit references undefined node: %s, %s", e.V1, e.V2)
		}
	}

	for _, t := range cfg.Costs {
		if t.V3 == 0 || t.V3 == INF {
			return fmt.Errorf("cost between %s and %s must be in [1, %d]", t.V1, t.V2, INF-1)
		}
	}

	segNames := make([]string, 0, len(cfg.Segments))
	for _, seg := range cfg.Segments {
		if err := NameValidator(seg.Id); err != nil {
			return err
		}
		if slices.Contains(segNames, seg.Id) {
			return fmt.Errorf("duplicate segment: %s", seg.Id)
		}
		segNames = append(segNames, seg.Id)
		if !slices.Contains(scopeIds, seg.Scope) {
			return fmt.Errorf("segment %s references undefined scope %s", seg.Id, seg.Scope)
		}
		if len(seg.Members) < 2 {
			return fmt.Errorf("segment %s needs at least two members", seg.Id)
		}
		for _, m := range seg.Members {
			if !slices.Contains(nodeIds, m) {
				return fmt.Errorf("segment %s references undefined node %s", seg.Id, m)
			}
			if !slices.Contains(cfg.GetNode(m).Scopes, seg.Scope) {
				return fmt.Errorf("segment %s member %s is not in scope %s", seg.Id, m, seg.Scope)
			}
		}
	}
	return nil
}
