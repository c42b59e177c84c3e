package validator

import "testing"

func TestCommandDjango(t *testing.T) {
	cases := []struct {
		version, testName, want string
	}{
		{
			"4.2", "test_foo (tests.basic.BasicTests)",
			"python tests/runtests.py --settings=test_sqlite --parallel 1 tests.basic.BasicTests.test_foo -v 2",
		},
		{
			"1.9", "test_foo (tests.basic.BasicTests)",
			"python tests/runtests.py tests.basic.BasicTests.test_foo -v 2",
		},
	}
	for _, c := range cases {
		got := Command("django/django", c.version, c.testName, "python")
		if got != c.want {
			t.Errorf("Command(django, %q, %q) = %q, want %q", c.version, c.testName, got, c.want)
		}
	}
}

func TestCommandSympy(t *testing.T) {
	got := Command("sympy/sympy", "1.6", "sympy/core/tests/test_basic.py", "python")
	want := "PYTHONWARNINGS='ignore::UserWarning,ignore::SyntaxWarning' bin/test -C --verbose sympy/core/tests/test_basic.py"
	if got != want {
		t.Errorf("Command(sympy) = %q, want %q", got, want)
	}
}

func TestCommandSphinx(t *testing.T) {
	got := Command("sphinx-doc/sphinx", "4.0", "test_foo (tests.test_build.BuildTests)", "python")
	want := "tox --current-env -epy39 -v -- tests/test_build.py::BuildTests::test_foo"
	if got != want {
		t.Errorf("Command(sphinx) = %q, want %q", got, want)
	}
}

func TestCommandAstropy(t *testing.T) {
	got := Command("astropy/astropy", "5.1", "test_foo (astropy.io.tests.TestIO)", "python")
	want := "python -m pytest -rA -vv -o console_output_style=classic --tb=short astropy/io/tests.py::TestIO::test_foo"
	if got != want {
		t.Errorf("Command(astropy) = %q, want %q", got, want)
	}
}

func TestCommandPytestStyleRepos(t *testing.T) {
	cases := []string{
		"matplotlib/matplotlib",
		"scikit-learn/scikit-learn",
		"pallets/flask",
		"pydata/xarray",
		"pytest-dev/pytest",
		"psf/requests",
		"pylint-dev/pylint",
	}
	for _, repo := range cases {
		got := Command(repo, "1.0", "test_foo (pkg.mod.ClassName)", "python")
		want := "python -m pytest -rA -xvs --tb=short pkg/mod.py::ClassName::test_foo"
		if got != want {
			t.Errorf("Command(%s) = %q, want %q", repo, got, want)
		}
	}
}

func TestCommandSeaborn(t *testing.T) {
	got := Command("mwaskom/seaborn", "0.12", "test_foo (seaborn.tests.TestPlot)", "python")
	want := "python -m pytest --no-header -rA -xvs --tb=short seaborn/tests.py::TestPlot::test_foo"
	if got != want {
		t.Errorf("Command(seaborn) = %q, want %q", got, want)
	}
}

func TestCommandDefaultSimpleName(t *testing.T) {
	got := Command("unknown/repo", "1.0", "test_foo", "python")
	want := "python -m pytest -k test_foo -xvs --tb=short"
	if got != want {
		t.Errorf("Command(default, simple) = %q, want %q", got, want)
	}
}

func TestCommandDefaultQualifiedName(t *testing.T) {
	got := Command("unknown/repo", "1.0", "test_foo (pkg.mod.ClassName)", "python")
	want := "python -m pytest pkg/mod.py::ClassName::test_foo -xvs --tb=short"
	if got != want {
		t.Errorf("Command(default, qualified) = %q, want %q", got, want)
	}
}

func TestConvertUnittestToDjangoNoMatch(t *testing.T) {
	if got := convertUnittestToDjango("not_a_match"); got != "not_a_match" {
		t.Errorf("convertUnittestToDjango(no match) = %q", got)
	}
}

func TestConvertUnittestToPytestNoMatch(t *testing.T) {
	if got := convertUnittestToPytest("not_a_match"); got != "not_a_match" {
		t.Errorf("convertUnittestToPytest(no match) = %q", got)
	}
}

func TestIsSimpleTestName(t *testing.T) {
	cases := map[string]bool{
		"test_foo":                      true,
		"test_foo_bar":                  true,
		"test_foo (pkg.mod.ClassName)":  false,
		"pkg/mod.py::ClassName::test_foo": false,
	}
	for name, want := range cases {
		if got := isSimpleTestName(name); got != want {
			t.Errorf("isSimpleTestName(%q) = %v, want %v", name, got, want)
		}
	}
}
