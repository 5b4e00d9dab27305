package fw24

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Hydrator resolves relation attributes on fetched records by batch-fetching
// the referenced records from the related entity's service.
type Hydrator struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *Metrics
}

// NewHydrator returns a Hydrator that looks up related services in registry.
// Logger and metrics may be nil.
func NewHydrator(registry *Registry, logger *zap.Logger, metrics *Metrics) *Hydrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hydrator{registry: registry, logger: logger, metrics: metrics}
}

type assignment struct {
	record int
	value  any
}

// Hydrate replaces the value of every selected relation attribute on records
// with the related record(s). Selections must have been run through
// InferRelationships. Each relation attribute costs exactly one GetBatch call
// however many records reference it; distinct attributes are fetched
// concurrently. Records are modified in place.
func (h *Hydrator) Hydrate(ctx context.Context, schema *Schema, records []Record, sel Selections) error {
	type task struct {
		name string
		node *Selection
		svc  RelatedService
	}

	var tasks []task
	for _, name := range sel.Names() {
		node := sel[name]
		if node == nil || node.Relation == nil {
			if attr, ok := schema.Attribute(name); ok && attr.Relation != nil && !node.IsLeaf() {
				return fmt.Errorf("%w: selection %s.%s has nested attributes but no relation metadata", ErrConfiguration, schema.Entity, name)
			}
			continue
		}
		var svc RelatedService
		if h.registry != nil {
			svc, _ = h.registry.Service(node.Relation.Entity)
		}
		if svc == nil {
			return fmt.Errorf("%w: no service registered for entity %s (%s.%s)", ErrConfiguration, node.Relation.Entity, schema.Entity, name)
		}
		tasks = append(tasks, task{name: name, node: node, svc: svc})
	}
	if len(tasks) == 0 || len(records) == 0 {
		return nil
	}

	results := make([][]assignment, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			out, err := h.hydrateAttribute(ctx, schema, records, t.name, t.node, t.svc)
			if err != nil {
				return fmt.Errorf("failed to hydrate %s.%s: %w", schema.Entity, t.name, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, t := range tasks {
		for _, a := range results[i] {
			records[a.record][t.name] = a.value
		}
	}
	return nil
}

// hydrateAttribute only reads records; the caller applies the assignments.
func (h *Hydrator) hydrateAttribute(ctx context.Context, schema *Schema, records []Record, name string, node *Selection, svc RelatedService) ([]assignment, error) {
	rel := node.Relation
	targets := make([]string, len(rel.Identifiers))
	for i, m := range rel.Identifiers {
		targets[i] = m.Target
	}

	type reference struct {
		many bool
		keys []string
	}
	refs := make([]*reference, len(records))
	var batch []Identifiers
	seen := make(map[string]bool)

	for i, rec := range records {
		raw := rec[name]
		ref := &reference{many: isSlice(raw)}
		elems := []any{raw}
		if ref.many {
			elems = toSlice(raw)
		}
		for _, elem := range elems {
			ids, ok := relatedIdentifiers(rel.Identifiers, elem, rec)
			if !ok {
				continue
			}
			key := canonicalKey(ids, targets)
			ref.keys = append(ref.keys, key)
			if !seen[key] {
				seen[key] = true
				batch = append(batch, ids)
			}
		}
		if len(ref.keys) > 0 || ref.many {
			refs[i] = ref
		}
	}
	if len(batch) == 0 {
		return nil, nil
	}

	in := GetBatchInput{Identifiers: batch}
	if node.IsLeaf() {
		in.Attributes = mergeNames(svc.SerializationAttributeNames(), targets)
		in.SkipHydration = true
	} else {
		in.Selections = node.Nested.Merge(ParseAttributePaths(targets))
	}

	h.metrics.recordFetch(schema.Entity, rel.Entity)
	out, err := svc.GetBatch(ctx, in)
	if err != nil {
		return nil, err
	}

	fetched := make(map[string]Record, len(out.Records))
	for _, r := range out.Records {
		ids := make(Identifiers, len(targets))
		for _, t := range targets {
			ids[t] = r[t]
		}
		fetched[canonicalKey(ids, targets)] = r
	}

	var assignments []assignment
	for i, ref := range refs {
		if ref == nil {
			continue
		}
		if ref.many {
			related := make([]any, 0, len(ref.keys))
			for _, key := range ref.keys {
				if r, ok := fetched[key]; ok {
					related = append(related, r)
					continue
				}
				h.warnMissing(schema, name, rel.Entity, key)
			}
			assignments = append(assignments, assignment{record: i, value: related})
			continue
		}
		r, ok := fetched[ref.keys[0]]
		if !ok {
			h.warnMissing(schema, name, rel.Entity, ref.keys[0])
			assignments = append(assignments, assignment{record: i, value: nil})
			continue
		}
		assignments = append(assignments, assignment{record: i, value: r})
	}
	return assignments, nil
}

func (h *Hydrator) warnMissing(schema *Schema, name, related, key string) {
	h.logger.Warn("related record not found",
		zap.String("entity", schema.Entity),
		zap.String("attribute", name),
		zap.String("related", related),
		zap.String("identifiers", key),
	)
}

// relatedIdentifiers resolves each mapping's source path against the raw
// relation value, then against the root record. A scalar raw value stands
// in for the source of a single mapping.
func relatedIdentifiers(mappings []IdentifierMapping, raw any, root Record) (Identifiers, bool) {
	ids := make(Identifiers, len(mappings))
	rawMap, isMap := asMap(raw)
	for _, m := range mappings {
		var (
			v  any
			ok bool
		)
		switch {
		case isMap:
			v, ok = lookupPath(rawMap, m.Source)
		case raw != nil && len(mappings) == 1:
			v, ok = raw, true
		}
		if !ok || v == nil {
			v, ok = lookupPath(root, m.Source)
		}
		if !ok || v == nil {
			return nil, false
		}
		ids[m.Target] = v
	}
	return ids, true
}

// canonicalKey renders identifier values as a stable string so that 1, 1.0
// and "1" address the same record.
func canonicalKey(ids Identifiers, targets []string) string {
	norm := make(map[string]string, len(targets))
	for _, t := range targets {
		norm[t] = keyString(ids[t])
	}
	b, _ := json.Marshal(norm)
	return string(b)
}

func mergeNames(names ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range names {
		for _, n := range list {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}
