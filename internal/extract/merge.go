package extract

// mergeIR unions entities by id and relations by (source, target, type),
// taking the max confidence on conflict. The first occurrence of an id/key
// sets the base record (name, type, and desc when non-empty); later
// occurrences only raise its confidence (and a relation's weight), add
// attribute keys it lacks, and fill in an empty relation desc, matching the
// "merge" step between the rule, oracle, and structured-augmentation passes.
func mergeIR(entityGroups [][]IREntity, relationGroups [][]IRRelation) ([]IREntity, []IRRelation) {
	entityIdx := make(map[string]int)
	var entities []IREntity
	for _, group := range entityGroups {
		for _, e := range group {
			if idx, ok := entityIdx[e.ID]; ok {
				existing := &entities[idx]
				if e.Confidence > existing.Confidence {
					existing.Confidence = e.Confidence
				}
				if existing.Attributes == nil && e.Attributes != nil {
					existing.Attributes = e.Attributes
				} else if existing.Attributes != nil && e.Attributes != nil {
					for k, v := range e.Attributes {
						if _, has := existing.Attributes[k]; !has {
							existing.Attributes[k] = v
						}
					}
				}
				continue
			}
			entityIdx[e.ID] = len(entities)
			entities = append(entities, e)
		}
	}

	relIdx := make(map[string]int)
	var relations []IRRelation
	for _, group := range relationGroups {
		for _, r := range group {
			key := r.SourceID + "|" + r.TargetID + "|" + string(r.Type)
			if idx, ok := relIdx[key]; ok {
				existing := &relations[idx]
				if r.Confidence > existing.Confidence {
					existing.Confidence = r.Confidence
				}
				if existing.Desc == "" {
					existing.Desc = r.Desc
				}
				if r.Weight > existing.Weight {
					existing.Weight = r.Weight
				}
				continue
			}
			relIdx[key] = len(relations)
			relations = append(relations, r)
		}
	}

	return entities, relations
}
