package sandbox

import "strconv"

// runtimeTable maps a repository coordinate to an ascending list of
// (version threshold, python version) pairs. PythonVersion walks the list
// and returns the version for the first threshold the task's version is
// strictly below; if the task's version meets or exceeds every threshold,
// the last entry's version applies.
type versionStep struct {
	threshold float64
	python    string
}

var runtimeTable = map[string][]versionStep{
	"django/django": {
		{3.0, "3.5"},
		{4.0, "3.6"},
		{4.1, "3.8"},
		{5.0, "3.9"},
		// versions >= 5.0
	},
	"astropy/astropy": {
		{3.0, "3.6"},
		{5.3, "3.9"},
	},
	"matplotlib/matplotlib": {
		{3.0, "3.5"},
		{3.1, "3.7"},
		{3.5, "3.8"},
	},
	"scikit-learn/scikit-learn": {
		{1.0, "3.6"},
	},
	"pallets/flask": {
		{2.1, "3.9"},
		{2.2, "3.10"},
	},
}

// runtimeTableTail is the python version used once a task's version meets or
// exceeds every threshold in its repo's table.
var runtimeTableTail = map[string]string{
	"django/django":             "3.11",
	"astropy/astropy":           "3.10",
	"matplotlib/matplotlib":     "3.11",
	"scikit-learn/scikit-learn": "3.9",
	"pallets/flask":             "3.11",
}

const defaultPythonVersion = "3.9"

// PythonVersion derives the Python runtime version to provision for a task,
// keyed on (repo, version) per the harness's fixed lookup table.
func PythonVersion(repo, version string) string {
	if repo == "pydata/xarray" {
		return "3.10"
	}

	steps, ok := runtimeTable[repo]
	if !ok {
		return defaultPythonVersion
	}

	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return defaultPythonVersion
	}

	for _, step := range steps {
		if v < step.threshold {
			return step.python
		}
	}
	return runtimeTableTail[repo]
}
