package session

import "time"

// ToggleChecklistItem flips the completion of item id and stamps the time it
// was completed. The input slice is not modified; ok is false if id is absent.
func ToggleChecklistItem(items []ChecklistItem, id string, now time.Time) (out []ChecklistItem, ok bool) {
	out = make([]ChecklistItem, len(items))
	copy(out, items)

	for i := range out {
		if out[i].ID != id {
			continue
		}

		out[i].Completed = !out[i].Completed
		if out[i].Completed {
			out[i].Time = now.Format("15:04")
		} else {
			out[i].Time = ""
		}

		return out, true
	}

	return out, false
}
