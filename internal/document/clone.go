package document

import "atelie/api/internal/util"

// CloneForEditing instantiates a fresh, identity-less Document from a
// template's content. Every section and block receives a new identity and
// layout keys are remapped accordingly, so two documents cloned from the
// same template never share ids. Publish state, slug and thumbnail are not
// carried over; the clone starts its life as a brand-new document.
func CloneForEditing(template Document) Document {
	doc := Default()
	doc.Name = template.Name
	doc.Theme = template.Theme

	sectionIDs := make(map[string]string, len(template.Sections))
	blockIDs := make(map[string]string)

	doc.Sections = make([]Section, 0, len(template.Sections))
	for _, section := range template.Sections {
		cloned := section
		cloned.ID = util.NewID("sec")
		cloned.Style = cloneMap(section.Style)
		sectionIDs[section.ID] = cloned.ID
		doc.Sections = append(doc.Sections, cloned)
	}

	doc.BlocksBySection = make(map[string][]Block, len(template.BlocksBySection))
	for sectionID, blocks := range template.BlocksBySection {
		newSectionID, ok := sectionIDs[sectionID]
		if !ok {
			// Blocks keyed to a section the template no longer has; drop them.
			continue
		}
		cloned := make([]Block, 0, len(blocks))
		for _, block := range blocks {
			copied := block
			copied.ID = util.NewID("blk")
			copied.Content = cloneMap(block.Content)
			copied.Style = cloneMap(block.Style)
			blockIDs[block.ID] = copied.ID
			cloned = append(cloned, copied)
		}
		doc.BlocksBySection[newSectionID] = cloned
	}

	doc.Layouts = emptyLayouts()
	for breakpoint, geometries := range template.Layouts {
		remapped := make(map[string]Geometry, len(geometries))
		for blockID, geometry := range geometries {
			newBlockID, ok := blockIDs[blockID]
			if !ok {
				// Geometry for a block that no longer exists; prune it here
				// rather than carrying the orphan into the new document.
				continue
			}
			remapped[newBlockID] = geometry
		}
		doc.Layouts[breakpoint] = remapped
	}

	Ensure(&doc)
	return doc
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return typed
	}
}
