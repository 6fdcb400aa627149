package board

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// GroupCache maps group names to board group ids, scoped to one board, so N
// items sharing a container trigger at most one container-creation call per
// run. Last-writer-wins on concurrent fills is acceptable because group
// names derive deterministically from the same rules everywhere.
type GroupCache struct {
	mu     sync.Mutex
	byName map[string]string
	primed bool
}

func NewGroupCache() *GroupCache {
	return &GroupCache{byName: make(map[string]string)}
}

// Lookup returns the cached id for a group name.
func (g *GroupCache) Lookup(name string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byName[name]
	return id, ok
}

// Store records a name -> id mapping.
func (g *GroupCache) Store(name, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byName[name] = id
}

// markPrimed flags that the board's existing groups were fetched once.
func (g *GroupCache) markPrimed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.primed {
		return false
	}
	g.primed = true
	return true
}

// ensureGroup resolves a group name to its board id, priming the cache from
// the board on first miss and creating the group only if it still does not
// exist.
func (e *Executor) ensureGroup(ctx context.Context, name string) (string, error) {
	if id, ok := e.groups.Lookup(name); ok {
		return id, nil
	}

	if e.groups.markPrimed() {
		if err := e.primeGroups(ctx); err != nil {
			return "", err
		}
		if id, ok := e.groups.Lookup(name); ok {
			return id, nil
		}
	}

	query := fmt.Sprintf(
		`mutation { %s: create_group (board_id: %s, group_name: %s) { id } }`,
		opCreateGroupSel, jsonStringLiteral(e.boardID), jsonStringLiteral(name),
	)

	var groupID string
	err := e.retry(ctx, func(ctx context.Context) error {
		data, err := e.client.Execute(ctx, query, nil)
		if err != nil {
			return err
		}
		groupID, err = entityID(data, opCreateGroupSel)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create group %q: %w", name, err)
	}

	e.groups.Store(name, groupID)
	e.logger.Info("Created board group", "group", name, "group_id", groupID)
	return groupID, nil
}

// primeGroups loads the board's existing groups into the cache in one query.
func (e *Executor) primeGroups(ctx context.Context) error {
	query := fmt.Sprintf(
		`query { boards (ids: [%s]) { groups { id title } } }`,
		jsonStringLiteral(e.boardID),
	)

	var data map[string]json.RawMessage
	err := e.retry(ctx, func(ctx context.Context) error {
		var execErr error
		data, execErr = e.client.Execute(ctx, query, nil)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("fetch board groups: %w", err)
	}

	var boards []struct {
		Groups []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"groups"`
	}
	if raw, ok := data["boards"]; ok {
		if err := json.Unmarshal(raw, &boards); err != nil {
			return fmt.Errorf("parse board groups: %w", err)
		}
	}
	for _, b := range boards {
		for _, g := range b.Groups {
			e.groups.Store(g.Title, g.ID)
		}
	}
	return nil
}
