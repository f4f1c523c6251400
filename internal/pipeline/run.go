package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/harvest"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/objectstore"
	"github.com/sells-group/catalog-ingest/internal/runlog"
	"github.com/sells-group/catalog-ingest/internal/schema"
	"github.com/sells-group/catalog-ingest/internal/textnorm"
)

// run is the state of one Ingest call.
type run struct {
	in  *Ingestor
	req Request
	log func(ctx context.Context, e runlog.Entry)

	mu     sync.Mutex
	status model.RunStatus
	family string
}

func newRun(in *Ingestor, req Request) *run {
	r := &run{in: in, req: req, status: model.RunResolvingFamily}
	r.log = func(ctx context.Context, e runlog.Entry) {
		if err := in.runlog.Append(ctx, e); err != nil {
			zap.L().Warn("pipeline: run log append failed",
				zap.String("run_id", e.RunID), zap.String("status", e.Status), zap.Error(err))
		}
	}
	return r
}

func (r *run) setStatus(ctx context.Context, status model.RunStatus) {
	r.mu.Lock()
	r.status = status
	fam := r.family
	r.mu.Unlock()
	zap.L().Debug("pipeline: status", zap.String("run_id", r.req.RunID), zap.String("status", string(status)), zap.String("family", fam))
	if !status.Terminal() {
		r.log(ctx, runlog.Entry{RunID: r.req.RunID, Status: string(status), Family: fam, DocumentRef: r.req.DocumentRef})
	}
}

func (r *run) setFamily(slug string) {
	r.mu.Lock()
	r.family = slug
	r.mu.Unlock()
}

func (r *run) currentStatus() model.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *run) newResult() *model.IngestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := &model.IngestResult{
		RunID:       r.req.RunID,
		Status:      r.status,
		Family:      r.family,
		Identifiers: []string{},
		Skipped:     []string{},
		SkipReasons: []model.Skip{},
	}
	if r.family != "" {
		res.Table = catalog.TableFor(r.family)
	}
	return res
}

// abort builds the result of a run that ended before producing records.
func (r *run) abort(err error) *model.IngestResult {
	res := r.newResult()
	res.Status = model.RunFailed
	res.Warnings = append(res.Warnings, err.Error())
	return res
}

// execute walks the state machine. It returns a result on every path;
// run-fatal paths also return an error.
func (r *run) execute(ctx context.Context) (*model.IngestResult, error) {
	in := r.in
	hints := r.req.Hints

	// ===== RESOLVING_FAMILY =====
	r.setStatus(ctx, model.RunResolvingFamily)
	bundle, err := r.loadBundle(ctx)
	if err != nil {
		return r.abort(err), err
	}
	sample := textSample(bundle.Text, in.cfg.TextSampleBytes)
	resolution := in.resolver.Resolve(ctx, r.familyHint(bundle), sample, hints.Brand)
	r.setFamily(resolution.Slug)

	res := r.newResult()
	if resolution.Uncertain {
		res.Warnings = append(res.Warnings, fmt.Sprintf("family classification uncertain; using %s", resolution.Slug))
	}

	var schemaErr error
	fam, err := in.families.Get(ctx, resolution.Slug)
	if err != nil {
		schemaErr = err
		fam = in.families.Describe(resolution.Slug)
	}
	res.Table = fam.Table

	// ===== HARVESTING =====
	r.setStatus(ctx, model.RunHarvesting)
	h := in.harvest.Harvest(ctx, harvest.Input{Family: fam, Bundle: bundle, Hints: hints})
	res.DocType = h.DocType
	recs, extras := h.Records, h.Extras

	brands, err := normalize.LoadBrandResolver(ctx, in.store)
	if err != nil {
		zap.L().Warn("pipeline: brand directory unavailable", zap.String("run_id", r.req.RunID), zap.Error(err))
		brands = normalize.NewBrandResolver(nil)
	}
	docText := bundle.DocumentText()
	resolveBrand := brands.ForText(docText)
	res.Brand = resolveBrand(h.Brand)
	for _, rec := range append(append([]*model.CandidateRecord(nil), recs...), extras...) {
		raw := rec.Brand
		rec.Brand = resolveBrand(raw)
		r.learnBrand(ctx, brands, raw, rec.Brand)
	}
	if res.Brand == "" {
		for _, rec := range recs {
			if rec.Brand != "" {
				res.Brand = rec.Brand
				break
			}
		}
	}

	// ===== NEGOTIATING_SCHEMA =====
	if err := ctx.Err(); err != nil {
		return r.abort(err), err
	}
	r.setStatus(ctx, model.RunNegotiating)
	var outcome *schema.Outcome
	if schemaErr == nil {
		outcome, schemaErr = in.schema.Negotiate(ctx, schema.Request{
			Family: fam,
			Brand:  res.Brand,
			Series: h.Series,
			Values: collectValues(recs, extras),
			Text:   sample,
		})
	}
	if schemaErr != nil {
		return r.abandonFamily(ctx, res, append(recs, extras...), schemaErr)
	}
	applyMapping(recs, outcome.Mapping)
	applyMapping(extras, outcome.Mapping)
	fam.VariantKeys = outcome.VariantKeys
	if len(outcome.Added) > 0 || len(outcome.NewVariantKeys) > 0 {
		in.families.Invalidate(fam.Slug)
	}
	if len(outcome.NewVariantKeys) > 0 {
		backfillFam, columns, keys := fam, outcome.Columns, outcome.NewVariantKeys
		in.background(ctx, "backfill", func(ctx context.Context) {
			in.backfill.Run(ctx, backfillFam, columns, keys)
		})
	}

	// ===== SYNTHESIZING_IDENTIFIERS =====
	r.setStatus(ctx, model.RunSynthesizing)
	synth := in.synth.Apply(ctx, fam, res.Brand, h.Series, docText, recs)
	if synth.Rejected > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d synthesized identifiers not found in source text", synth.Rejected))
	}
	recs = mergeExtras(recs, extras)

	// ===== NORMALIZING =====
	r.setStatus(ctx, model.RunNormalizing)
	for _, rec := range recs {
		rec.Identifier = normalize.NormalizeIdentifier(rec.Identifier)
		rec.DocType = h.DocType
		normalize.Coerce(rec, outcome.Columns)
	}
	admitted, skips := in.gate.Admit(recs)
	res.Processed = len(recs)
	for _, s := range skips {
		res.AddSkip(s)
	}

	// ===== PERSISTING =====
	if err := ctx.Err(); err != nil {
		return r.abort(err), err
	}
	r.setStatus(ctx, model.RunPersisting)
	r.persist(ctx, fam, admitted, res)
	if err := ctx.Err(); err != nil {
		return r.abort(err), err
	}

	for _, rec := range recs {
		res.Warnings = append(res.Warnings, rec.Warnings...)
	}
	res.Status = model.RunDone
	if len(res.Skipped) > 0 {
		res.Status = model.RunPartial
	}
	res.OK = res.Written > 0
	r.setStatus(ctx, res.Status)

	if res.Written > 0 {
		in.background(ctx, "refresh_views", func(ctx context.Context) {
			if err := in.store.RefreshViews(ctx); err != nil {
				zap.L().Warn("pipeline: view refresh failed", zap.String("run_id", r.req.RunID), zap.Error(err))
			}
		})
	}
	return res, nil
}

// loadBundle returns the supplied bundle or fetches and parses the document.
func (r *run) loadBundle(ctx context.Context) (*model.ExtractionBundle, error) {
	if r.req.Bundle != nil {
		return r.req.Bundle, nil
	}
	in := r.in
	if in.objects == nil || in.parser == nil {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "pipeline: no bundle and no document source for %q", r.req.DocumentRef)
	}
	if r.req.DocumentRef == "" {
		return nil, eris.Wrap(model.ErrSourceUnreadable, "pipeline: empty document reference")
	}
	data, err := in.objects.Fetch(ctx, r.req.DocumentRef)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch document")
	}
	bundle, err := in.parser.Parse(ctx, objectstore.Name(r.req.DocumentRef), data)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: parse document")
	}
	return bundle, nil
}

// familyHint returns the caller's family hint, else the bundle's oracle
// family when it names a declared blueprint. Oracle output never registers a
// new family.
func (r *run) familyHint(bundle *model.ExtractionBundle) string {
	if r.req.Hints.Family != "" {
		return r.req.Hints.Family
	}
	if bundle.OracleFamily == "" {
		return ""
	}
	slug, ok := r.in.resolver.Known(bundle.OracleFamily)
	if !ok {
		zap.L().Warn("pipeline: ignoring unknown oracle family",
			zap.String("run_id", r.req.RunID), zap.String("family", bundle.OracleFamily))
		return ""
	}
	return slug
}

// learnBrand writes back a brand alias the resolver inferred from the raw
// value or the text, so later runs resolve it exactly.
func (r *run) learnBrand(ctx context.Context, brands *normalize.BrandResolver, raw, canonical string) {
	if canonical == "" || normalize.IsSentinelBrand(raw) || brands.Known(raw) {
		return
	}
	if textnorm.BrandKey(raw) == textnorm.BrandKey(canonical) || !brands.Known(canonical) {
		return
	}
	if err := r.in.store.SaveBrandAlias(ctx, raw, canonical); err != nil {
		zap.L().Warn("pipeline: save brand alias failed", zap.String("alias", raw), zap.Error(err))
	}
}

// abandonFamily skips every candidate with schema_not_ready. The run is
// partial and the error tells the caller to retry.
func (r *run) abandonFamily(ctx context.Context, res *model.IngestResult, recs []*model.CandidateRecord, err error) (*model.IngestResult, error) {
	res.Processed = len(recs)
	for _, rec := range recs {
		res.AddSkip(model.SkipFor(rec, err))
	}
	res.Status = model.RunPartial
	res.Warnings = append(res.Warnings, err.Error())
	r.setStatus(ctx, res.Status)
	return res, err
}

// persist upserts each admitted record in its own transaction. Failures are
// captured per record. It stops once ctx ends; the watchdog has already
// answered the caller and released the lock by then.
func (r *run) persist(ctx context.Context, fam *model.Family, recs []*model.CandidateRecord, res *model.IngestResult) {
	meta := catalog.RecordMeta{SourceRef: r.req.DocumentRef, RunID: r.req.RunID}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		inserted, err := r.in.store.Upsert(ctx, fam, rec, meta)
		if err != nil {
			zap.L().Warn("pipeline: upsert failed",
				zap.String("run_id", r.req.RunID),
				zap.String("identifier", rec.Identifier),
				zap.Error(err),
			)
			res.AddSkip(model.SkipFor(rec, eris.Wrapf(model.ErrStoreError, "upsert %s: %v", rec.Identifier, err)))
			continue
		}
		res.Written++
		if inserted {
			res.Inserted++
		}
		res.Identifiers = append(res.Identifiers, rec.Identifier)
	}
}

// collectValues groups every attribute value by raw key for negotiation.
func collectValues(groups ...[]*model.CandidateRecord) map[string][]any {
	out := make(map[string][]any)
	for _, recs := range groups {
		for _, rec := range recs {
			for k, v := range rec.Attrs {
				if !model.IsEmptyValue(v) {
					out[k] = append(out[k], v)
				}
			}
		}
	}
	return out
}

// applyMapping renames raw keys to their canonical columns. Keys mapped to
// no column move to overflow; on collisions the first key in sorted order
// wins.
func applyMapping(recs []*model.CandidateRecord, mapping map[string]string) {
	for _, rec := range recs {
		keys := make([]string, 0, len(rec.Attrs))
		for k := range rec.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make(map[string]any, len(rec.Attrs))
		for _, k := range keys {
			v := rec.Attrs[k]
			col, ok := mapping[k]
			if !ok {
				col = k
			}
			if col == "" {
				rec.Overflow[k] = v
				continue
			}
			if _, taken := attrs[col]; !taken {
				attrs[col] = v
			}
		}
		rec.Attrs = attrs
	}
}

// mergeExtras appends literal candidates whose natural key synthesis did
// not already produce.
func mergeExtras(recs, extras []*model.CandidateRecord) []*model.CandidateRecord {
	if len(extras) == 0 {
		return recs
	}
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		seen[model.NaturalKey(rec.Brand, normalize.NormalizeIdentifier(rec.Identifier))] = true
	}
	for _, ex := range extras {
		key := model.NaturalKey(ex.Brand, normalize.NormalizeIdentifier(ex.Identifier))
		if !seen[key] {
			seen[key] = true
			recs = append(recs, ex)
		}
	}
	return recs
}

func textSample(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
