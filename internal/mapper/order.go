package mapper

import "sort"

// sortMappers orders mappers so that every producer of a key runs before its
// consumers (Kahn's algorithm). Among mappers that are ready at the same
// time, the lower id (earlier registration) goes first. Mappers left over
// because of a cycle are appended in registration order and returned as the
// second result.
func sortMappers(mappers []*Mapper) (ordered []*Mapper, cyclic []*Mapper) {
	byID := make([]*Mapper, len(mappers))
	copy(byID, mappers)
	sort.Slice(byID, func(i, j int) bool { return byID[i].id < byID[j].id })

	producers := make(map[string][]*Mapper)
	for _, m := range byID {
		for _, key := range m.deps.Load().outputs {
			producers[key] = append(producers[key], m)
		}
	}

	edges := make(map[uint64][]*Mapper, len(byID))
	indegree := make(map[uint64]int, len(byID))
	for _, consumer := range byID {
		seen := make(map[uint64]bool)
		for _, key := range consumer.deps.Load().inputs {
			for _, producer := range producers[key] {
				// A mapper reading its own output does not order against itself.
				if producer.id == consumer.id || seen[producer.id] {
					continue
				}
				seen[producer.id] = true
				edges[producer.id] = append(edges[producer.id], consumer)
				indegree[consumer.id]++
			}
		}
	}

	var ready []*Mapper
	for _, m := range byID {
		if indegree[m.id] == 0 {
			ready = append(ready, m)
		}
	}

	ordered = make([]*Mapper, 0, len(byID))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for _, consumer := range edges[next.id] {
			indegree[consumer.id]--
			if indegree[consumer.id] == 0 {
				ready = insertByID(ready, consumer)
			}
		}
	}

	if len(ordered) == len(byID) {
		return ordered, nil
	}

	placed := make(map[uint64]bool, len(ordered))
	for _, m := range ordered {
		placed[m.id] = true
	}
	for _, m := range byID {
		if !placed[m.id] {
			cyclic = append(cyclic, m)
			ordered = append(ordered, m)
		}
	}
	return ordered, cyclic
}

func insertByID(list []*Mapper, m *Mapper) []*Mapper {
	i := sort.Search(len(list), func(i int) bool { return list[i].id > m.id })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}
