// Package validator turns a task's fail_to_pass/pass_to_pass test identifiers
// into concrete shell commands, runs them inside an already-provisioned
// sandbox, and scores the outcome.
package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// unittestNamePattern matches SWE-bench's class-qualified selector format,
// e.g. "test_method (dotted.module.ClassName)".
var unittestNamePattern = regexp.MustCompile(`^(\w+)\s+\(([^)]+)\)`)

// simpleTestNamePattern matches a bare function-name selector with no
// path or class information, e.g. "test_foo".
var simpleTestNamePattern = regexp.MustCompile(`^test_\w+$`)

// convertUnittestToDjango renders a class-qualified selector the way
// Django's tests/runtests.py expects it: "module.ClassName.test_method".
func convertUnittestToDjango(testName string) string {
	m := unittestNamePattern.FindStringSubmatch(testName)
	if m == nil {
		return testName
	}
	method, dottedPath := m[1], m[2]
	return dottedPath + "." + method
}

// convertUnittestToPytest renders a class-qualified selector the way
// pytest expects it: "dotted/module.py::ClassName::test_method".
func convertUnittestToPytest(testName string) string {
	m := unittestNamePattern.FindStringSubmatch(testName)
	if m == nil {
		return testName
	}
	method, dottedPath := m[1], m[2]
	idx := strings.LastIndex(dottedPath, ".")
	if idx < 0 {
		return testName
	}
	module, class := dottedPath[:idx], dottedPath[idx+1:]
	filePath := strings.ReplaceAll(module, ".", "/") + ".py"
	return fmt.Sprintf("%s::%s::%s", filePath, class, method)
}

func isSimpleTestName(testName string) bool {
	return simpleTestNamePattern.MatchString(testName)
}

// pytestStyleRepos share the plain "-rA -xvs --tb=short" pytest invocation;
// only the exact set of flags differs for astropy and seaborn below.
var pytestStyleRepos = map[string]bool{
	"matplotlib/matplotlib":    true,
	"scikit-learn/scikit-learn": true,
	"pallets/flask":            true,
	"pydata/xarray":            true,
	"pytest-dev/pytest":        true,
	"psf/requests":             true,
	"pylint-dev/pylint":        true,
}

// Command returns the shell command that runs a single test identified by
// testName against repo at the given version, using pythonBin as the
// interpreter. Command selection is table-driven: most repos render to a
// pytest invocation, a handful have their own runner.
func Command(repo, version, testName, pythonBin string) string {
	if pythonBin == "" {
		pythonBin = "python"
	}

	switch repo {
	case "django/django":
		djangoTest := convertUnittestToDjango(testName)
		if parseVersion(version) == 1.9 {
			return fmt.Sprintf("%s tests/runtests.py %s -v 2", pythonBin, djangoTest)
		}
		return fmt.Sprintf("%s tests/runtests.py --settings=test_sqlite --parallel 1 %s -v 2", pythonBin, djangoTest)

	case "sympy/sympy":
		return fmt.Sprintf("PYTHONWARNINGS='ignore::UserWarning,ignore::SyntaxWarning' bin/test -C --verbose %s", testName)

	case "sphinx-doc/sphinx":
		pytestTest := convertUnittestToPytest(testName)
		return fmt.Sprintf("tox --current-env -epy39 -v -- %s", pytestTest)

	case "astropy/astropy":
		pytestTest := convertUnittestToPytest(testName)
		return fmt.Sprintf("%s -m pytest -rA -vv -o console_output_style=classic --tb=short %s", pythonBin, pytestTest)

	case "mwaskom/seaborn":
		pytestTest := convertUnittestToPytest(testName)
		return fmt.Sprintf("%s -m pytest --no-header -rA -xvs --tb=short %s", pythonBin, pytestTest)
	}

	if pytestStyleRepos[repo] {
		pytestTest := convertUnittestToPytest(testName)
		return fmt.Sprintf("%s -m pytest -rA -xvs --tb=short %s", pythonBin, pytestTest)
	}

	if isSimpleTestName(testName) {
		return fmt.Sprintf("%s -m pytest -k %s -xvs --tb=short", pythonBin, testName)
	}
	pytestTest := convertUnittestToPytest(testName)
	return fmt.Sprintf("%s -m pytest %s -xvs --tb=short", pythonBin, pytestTest)
}

// parseVersion parses a version string leniently: a malformed or empty
// version is treated as 0.0 rather than rejected, since it only ever gates
// a single Django special case.
func parseVersion(version string) float64 {
	if version == "" {
		return 0.0
	}
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return 0.0
	}
	return v
}
