package service

import (
	"slices"
	"time"
)

// criticalPath returns the requires chain with the largest summed job
// duration, ordered from the first job to the last.
func criticalPath(plan *WorkflowPlan, results map[string]JobResult) ([]string, time.Duration) {
	total := make(map[string]time.Duration, len(plan.Jobs))
	prev := make(map[string]string, len(plan.Jobs))

	var end string
	var best time.Duration
	for _, layer := range plan.Layers {
		for _, name := range layer {
			job, _ := plan.Job(name)
			var longest time.Duration
			for _, req := range job.Requires {
				if _, ok := prev[name]; !ok || total[req] > longest {
					longest = total[req]
					prev[name] = req
				}
			}
			total[name] = longest + results[name].Duration
			if end == "" || total[name] > best {
				end = name
				best = total[name]
			}
		}
	}
	if end == "" {
		return []string{}, 0
	}

	path := []string{end}
	for at := end; prev[at] != ""; at = prev[at] {
		path = append(path, prev[at])
	}
	slices.Reverse(path)
	return path, best
}
