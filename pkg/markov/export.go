package markov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Export is the serializable representation of a whole root: its options,
// its start and end fragments, and every entry with its child fragments.
type Export struct {
	ID         string           `json:"id"`
	Options    ExportOptions    `json:"options"`
	StartWords []ExportFragment `json:"startWords"`
	EndWords   []ExportFragment `json:"endWords"`
	Corpus     []ExportEntry    `json:"corpus"`
}

// ExportOptions holds the chain settings carried by both export formats.
type ExportOptions struct {
	StateSize int `json:"stateSize"`
}

// ExportEntry is an entry and its continuation fragments.
type ExportEntry struct {
	Block     string           `json:"block"`
	Fragments []ExportFragment `json:"fragments"`
}

// ExportFragment is a fragment and its references.
type ExportFragment struct {
	Words string      `json:"words"`
	Refs  []Reference `json:"refs"`
}

// LegacyExport is the older export format, where the corpus is a map from
// block text to fragments and references keep the sentence under "text"
// alongside any custom fields.
type LegacyExport struct {
	Options    ExportOptions               `json:"options"`
	StartWords []LegacyFragment            `json:"startWords"`
	EndWords   []LegacyFragment            `json:"endWords"`
	Corpus     map[string][]LegacyFragment `json:"corpus"`
}

// LegacyFragment is a fragment in the legacy format.
type LegacyFragment struct {
	Words string                       `json:"words"`
	Refs  []map[string]json.RawMessage `json:"refs"`
}

// ImportSource is the payload accepted by Import. It is implemented only by
// CurrentImport and LegacyImport.
type ImportSource interface {
	importSource()
}

// CurrentImport imports data in the format produced by Export.
type CurrentImport struct {
	Data *Export
}

// LegacyImport imports data in the legacy flat-map format.
type LegacyImport struct {
	Data *LegacyExport
}

func (CurrentImport) importSource() {}
func (LegacyImport) importSource()  {}

// legacyTextFields are the keys a legacy reference may keep its sentence
// under, in order of preference.
var legacyTextFields = []string{"text", "string"}

// reservedRefFields are names that mean something in the current format. A
// legacy reference carrying one of them in its payload is probably malformed.
var reservedRefFields = map[string]struct{}{
	"text": {}, "string": {}, "custom": {}, "words": {}, "refs": {},
}

// ReadExport decodes an Export from JSON.
func ReadExport(r io.Reader) (*Export, error) {
	var data Export
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode json export: %w", err)
	}
	return &data, nil
}

// ReadLegacyExport decodes a LegacyExport from JSON.
func ReadLegacyExport(r io.Reader) (*LegacyExport, error) {
	var data LegacyExport
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode legacy json export: %w", err)
	}
	return &data, nil
}

// Export reads the full graph of a root. It does not modify the store.
func (c *Chain) Export(ctx context.Context, root Root) (*Export, error) {
	root, err := c.store.GetRoot(ctx, root.ID)
	if err != nil {
		return nil, err
	}

	exported := &Export{
		ID:      root.ID,
		Options: ExportOptions{StateSize: root.StateSize},
		Corpus:  make([]ExportEntry, 0),
	}

	if exported.StartWords, err = c.exportFragments(ctx, StartOf(root.ID)); err != nil {
		return nil, fmt.Errorf("could not export start fragments: %w", err)
	}
	if exported.EndWords, err = c.exportFragments(ctx, EndOf(root.ID)); err != nil {
		return nil, fmt.Errorf("could not export end fragments: %w", err)
	}

	entries, err := c.store.ListEntries(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("could not query entries for export: %w", err)
	}
	for _, entry := range entries {
		frags, err := c.exportFragments(ctx, ChildOf(entry))
		if err != nil {
			return nil, fmt.Errorf("could not export fragments of entry '%s': %w", entry.Block, err)
		}
		exported.Corpus = append(exported.Corpus, ExportEntry{Block: entry.Block, Fragments: frags})
	}

	c.logger.InfoContext(ctx, "Root exported",
		slog.String("root_id", root.ID),
		slog.Int("entries_exported", len(exported.Corpus)),
		slog.Int("start_fragments_exported", len(exported.StartWords)),
		slog.Int("end_fragments_exported", len(exported.EndWords)),
	)
	return exported, nil
}

// WriteExport serializes a root with Export and writes it to w as indented
// JSON. This is useful for backups or for transferring chains.
func (c *Chain) WriteExport(ctx context.Context, root Root, w io.Writer) error {
	exported, err := c.Export(ctx, root)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

func (c *Chain) exportFragments(ctx context.Context, parent Parent) ([]ExportFragment, error) {
	frags, err := c.store.ListFragments(ctx, parent)
	if err != nil {
		return nil, err
	}
	out := make([]ExportFragment, 0, len(frags))
	for _, frag := range frags {
		refs, err := c.store.ListReferences(ctx, frag.ID)
		if err != nil {
			return nil, err
		}
		if refs == nil {
			refs = make([]Reference, 0)
		}
		out = append(out, ExportFragment{Words: frag.Words, Refs: refs})
	}
	return out, nil
}

// Import loads src into the store and returns the root it populated.
//
// A CurrentImport targets id, or the payload's own id when id is empty, or a
// fresh UUID when both are empty. If that root already exists it is treated
// as already imported and returned unchanged.
//
// A LegacyImport always replaces: any existing data for id is deleted and a
// fresh root is built from the legacy options and corpus.
//
// Either way the whole import is a single store transaction.
func (c *Chain) Import(ctx context.Context, id string, src ImportSource) (Root, error) {
	switch s := src.(type) {
	case CurrentImport:
		if s.Data == nil {
			return Root{}, fmt.Errorf("%w: current import has no data", ErrMalformedImport)
		}
		return c.importCurrent(ctx, id, s.Data)
	case LegacyImport:
		if s.Data == nil {
			return Root{}, fmt.Errorf("%w: legacy import has no data", ErrMalformedImport)
		}
		return c.importLegacy(ctx, id, s.Data)
	default:
		return Root{}, fmt.Errorf("markov: unsupported import source %T", src)
	}
}

func (c *Chain) importCurrent(ctx context.Context, id string, data *Export) (Root, error) {
	if id == "" {
		id = data.ID
	}
	if id == "" {
		id = uuid.NewString()
	}

	existing, err := c.store.GetRoot(ctx, id)
	if err == nil {
		c.logger.InfoContext(ctx, "Root already exists, skipping import",
			slog.String("root_id", existing.ID),
		)
		return existing, nil
	}
	if !errors.Is(err, ErrRootNotFound) {
		return Root{}, err
	}

	root, err := normalizeRoot(Root{ID: id, StateSize: data.Options.StateSize})
	if err != nil {
		return Root{}, err
	}

	err = c.store.Update(ctx, func(tx Store) error {
		if err := tx.CreateRoot(ctx, root); err != nil {
			return err
		}
		return writeGraph(ctx, tx, root, data)
	})
	if err != nil {
		return Root{}, fmt.Errorf("failed to import root %q: %w", root.ID, err)
	}

	c.logger.InfoContext(ctx, "Root imported successfully",
		slog.String("root_id", root.ID),
		slog.Int("state_size", root.StateSize),
		slog.Int("entries_imported", len(data.Corpus)),
	)
	return root, nil
}

func (c *Chain) importLegacy(ctx context.Context, id string, data *LegacyExport) (Root, error) {
	if id == "" {
		id = uuid.NewString()
	}
	root, err := normalizeRoot(Root{ID: id, StateSize: data.Options.StateSize})
	if err != nil {
		return Root{}, err
	}

	converted, err := c.convertLegacy(ctx, root, data)
	if err != nil {
		return Root{}, fmt.Errorf("%w: %w", ErrMalformedImport, err)
	}

	err = c.store.Update(ctx, func(tx Store) error {
		if err := tx.DeleteRoot(ctx, root.ID); err != nil {
			return err
		}
		if err := tx.CreateRoot(ctx, root); err != nil {
			return err
		}
		return writeGraph(ctx, tx, root, converted)
	})
	if err != nil {
		return Root{}, fmt.Errorf("failed to import legacy data into root %q: %w", root.ID, err)
	}

	c.logger.InfoContext(ctx, "Legacy data imported successfully",
		slog.String("root_id", root.ID),
		slog.Int("state_size", root.StateSize),
		slog.Int("entries_imported", len(converted.Corpus)),
	)
	return root, nil
}

// convertLegacy rewrites a legacy payload into the current shape. Map keys
// are visited in sorted order so repeated imports assign ids identically.
func (c *Chain) convertLegacy(ctx context.Context, root Root, data *LegacyExport) (*Export, error) {
	out := &Export{ID: root.ID, Options: ExportOptions{StateSize: root.StateSize}}

	var err error
	if out.StartWords, err = c.convertLegacyFragments(ctx, root, data.StartWords); err != nil {
		return nil, err
	}
	if out.EndWords, err = c.convertLegacyFragments(ctx, root, data.EndWords); err != nil {
		return nil, err
	}
	for _, block := range slices.Sorted(maps.Keys(data.Corpus)) {
		frags, err := c.convertLegacyFragments(ctx, root, data.Corpus[block])
		if err != nil {
			return nil, fmt.Errorf("entry '%s': %w", block, err)
		}
		out.Corpus = append(out.Corpus, ExportEntry{Block: block, Fragments: frags})
	}
	return out, nil
}

func (c *Chain) convertLegacyFragments(ctx context.Context, root Root, frags []LegacyFragment) ([]ExportFragment, error) {
	out := make([]ExportFragment, 0, len(frags))
	for _, frag := range frags {
		refs := make([]Reference, 0, len(frag.Refs))
		for _, raw := range frag.Refs {
			ref, err := c.convertLegacyRef(ctx, root, raw)
			if err != nil {
				return nil, fmt.Errorf("fragment '%s': %w", frag.Words, err)
			}
			refs = append(refs, ref)
		}
		out = append(out, ExportFragment{Words: frag.Words, Refs: refs})
	}
	return out, nil
}

// convertLegacyRef takes the sentence from the text field and keeps every
// other field, whatever its name, as the reference payload.
func (c *Chain) convertLegacyRef(ctx context.Context, root Root, raw map[string]json.RawMessage) (Reference, error) {
	fields := maps.Clone(raw)

	var ref Reference
	found := false
	for _, name := range legacyTextFields {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, &ref.String); err != nil {
			return Reference{}, fmt.Errorf("reference field %q is not a string: %w", name, err)
		}
		delete(fields, name)
		found = true
		break
	}
	if !found {
		return Reference{}, errors.New(`reference has no "text" field`)
	}

	if len(fields) == 0 {
		return ref, nil
	}
	for name := range fields {
		if _, reserved := reservedRefFields[name]; reserved {
			c.logger.WarnContext(ctx, "Legacy reference payload uses a reserved field name",
				slog.String("root_id", root.ID),
				slog.String("field", name),
				slog.String("string", ref.String),
			)
		}
	}
	custom, err := json.Marshal(fields)
	if err != nil {
		return Reference{}, fmt.Errorf("could not encode reference payload: %w", err)
	}
	ref.Custom = custom
	return ref, nil
}

// writeGraph recreates an exported graph under root.
func writeGraph(ctx context.Context, tx Store, root Root, data *Export) error {
	writeFragments := func(parent Parent, frags []ExportFragment) error {
		for _, frag := range frags {
			created, err := tx.UpsertFragment(ctx, parent, frag.Words)
			if err != nil {
				return err
			}
			for _, ref := range frag.Refs {
				if _, err = tx.UpsertReference(ctx, created.ID, ref.String, ref.Custom); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := writeFragments(StartOf(root.ID), data.StartWords); err != nil {
		return err
	}
	if err := writeFragments(EndOf(root.ID), data.EndWords); err != nil {
		return err
	}
	for _, e := range data.Corpus {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := tx.UpsertEntry(ctx, root.ID, e.Block)
		if err != nil {
			return err
		}
		if err = writeFragments(ChildOf(entry), e.Fragments); err != nil {
			return err
		}
	}
	return nil
}
