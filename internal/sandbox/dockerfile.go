package sandbox

import "fmt"

// ImageTag returns the tag for the canonical sandbox image built for a given
// Python runtime version (e.g. "swebench-harness:3.9").
func ImageTag(pythonVersion string) string {
	return fmt.Sprintf("swebench-harness:%s", pythonVersion)
}

// GenerateDockerfile returns the canonical Dockerfile-equivalent for a
// sandbox image pinned to pythonVersion. The image carries git, the build
// tooling most SWE-bench repos need to compile C extensions, and nothing
// else — dependency installation happens per-task, after checkout, not at
// image-build time.
func GenerateDockerfile(pythonVersion string) string {
	return fmt.Sprintf(`FROM python:%s-slim

RUN apt-get update && apt-get install -y --no-install-recommends \
    git \
    build-essential \
    pkg-config \
    && rm -rf /var/lib/apt/lists/*

RUN pip install --no-cache-dir --upgrade pip

WORKDIR %s
`, pythonVersion, RepoRoot)
}
