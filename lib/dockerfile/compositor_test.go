package dockerfile

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCompositor(t *testing.T) *Compositor {
	c, err := NewCompositor("ubuntu:22.04")
	require.NoError(t, err)
	return c
}

func TestNewCompositor(t *testing.T) {
	tests := []struct {
		image   string
		wantErr bool
	}{
		{"ubuntu:22.04", false},
		{"docker.io/library/ubuntu:22.04", false},
		{"ghcr.io/org/base@sha256:" + strings.Repeat("a", 64), false},
		{"", true},
		{"Not A Valid Ref", true},
		{"UPPER/case:tag", true},
	}

	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			c, err := NewCompositor(tt.image)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBaseImage)
				assert.Nil(t, c)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.image, c.BaseImage())
			}
		})
	}
}

func TestCompose_MinimalFragments(t *testing.T) {
	c := newTestCompositor(t)

	out, err := c.Compose(Fragments{
		Base:        "FROM a\nRUN x",
		Environment: "FROM a\nRUN y",
		Instance:    "FROM a\nCOPY ./s.sh /app/",
	}, Mounts{"./s.sh": "echo hi"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Equal(t, []string{
		"FROM ubuntu:22.04",
		"RUN x",
		"RUN y",
		"RUN echo ZWNobyBoaQ== | base64 -d > /app/s.sh",
	}, lines)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("echo hi")), "ZWNobyBoaQ==")
}

func TestCompose_Deterministic(t *testing.T) {
	c := newTestCompositor(t)
	f := Fragments{
		Base:        "FROM ubuntu:22.04\nRUN apt-get update\n",
		Environment: "FROM sweb.base:latest\nCOPY ./setup_env.sh /root/\nRUN /bin/bash /root/setup_env.sh\n",
		Instance:    "FROM sweb.env:latest\nCOPY ./setup_repo.sh /root/\nRUN /bin/bash /root/setup_repo.sh\nWORKDIR /testbed/\n",
	}
	mounts := Mounts{
		"./setup_env.sh":  "#!/bin/bash\nset -euxo pipefail\n",
		"./setup_repo.sh": "#!/bin/bash\ngit clone repo /testbed\n",
	}

	first, err := c.Compose(f, mounts)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Compose(f, mounts)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompose_PreservesOrderAcrossFragments(t *testing.T) {
	c := newTestCompositor(t)

	out, err := c.Compose(Fragments{
		Base:        "\n  FROM ubuntu:22.04\nRUN one\nRUN two\n",
		Environment: "FROM env\nRUN three\n",
		Instance:    "FROM inst\nRUN four\nWORKDIR /testbed/",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "FROM ubuntu:22.04\nRUN one\nRUN two\nRUN three\nRUN four\nWORKDIR /testbed/\n", out)
	assert.Equal(t, 1, strings.Count(out, "FROM "))
}

func TestCompose_RoundTripsMountContent(t *testing.T) {
	c := newTestCompositor(t)
	content := "#!/bin/bash\nset -e\n\necho 'héllo wörld ✓'\n\tindented\n"

	out, err := c.Compose(Fragments{
		Base:        "FROM a",
		Environment: "FROM a",
		Instance:    "FROM a\nCOPY ./setup_repo.sh /root/",
	}, Mounts{"./setup_repo.sh": content})
	require.NoError(t, err)

	var runLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasSuffix(line, "> /root/setup_repo.sh") {
			runLine = line
		}
	}
	require.NotEmpty(t, runLine, "rewritten COPY line not found in:\n%s", out)

	fields := strings.Fields(runLine)
	require.GreaterOrEqual(t, len(fields), 3)
	assert.Equal(t, "RUN", fields[0])
	assert.Equal(t, "echo", fields[1])

	decoded, err := base64.StdEncoding.DecodeString(fields[2])
	require.NoError(t, err)
	assert.Equal(t, content, string(decoded))
}

func TestCompose_MalformedFragment(t *testing.T) {
	c := newTestCompositor(t)

	tests := []struct {
		name     string
		f        Fragments
		fragment string
	}{
		{
			name:     "instance without FROM",
			f:        Fragments{Base: "FROM a", Environment: "FROM a", Instance: "RUN y\nFROM a"},
			fragment: FragmentInstance,
		},
		{
			name:     "environment without FROM",
			f:        Fragments{Base: "FROM a", Environment: "RUN y", Instance: "FROM a"},
			fragment: FragmentEnvironment,
		},
		{
			name:     "empty base",
			f:        Fragments{Base: "  \n", Environment: "FROM a", Instance: "FROM a"},
			fragment: FragmentBase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compose(tt.f, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedFragment)

			var mfe *MalformedFragmentError
			require.True(t, errors.As(err, &mfe))
			assert.Equal(t, tt.fragment, mfe.Fragment)
		})
	}
}

func TestCompose_CopyArity(t *testing.T) {
	c := newTestCompositor(t)

	_, err := c.Compose(Fragments{
		Base:        "FROM a\nRUN one\nRUN two",
		Environment: "FROM a",
		Instance:    "\nFROM a\nRUN x\nCOPY --chown=root ./s.sh /app/",
	}, Mounts{"./s.sh": "echo hi"})
	assert.ErrorIs(t, err, ErrMalformedFragment)

	var mfe *MalformedFragmentError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, FragmentInstance, mfe.Fragment)
	assert.Equal(t, 4, mfe.Line)
}

func TestCompose_MissingMount(t *testing.T) {
	c := newTestCompositor(t)

	_, err := c.Compose(Fragments{
		Base:        "FROM a",
		Environment: "FROM a\nCOPY ./setup_env.sh /root/",
		Instance:    "FROM a",
	}, Mounts{"./setup_repo.sh": "echo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingMount)

	var mme *MissingMountError
	require.True(t, errors.As(err, &mme))
	assert.Equal(t, "./setup_env.sh", mme.Source)
	assert.Equal(t, FragmentEnvironment, mme.Fragment)
	assert.Equal(t, 2, mme.Line)
}

func TestCompose_LowercaseInstructions(t *testing.T) {
	c := newTestCompositor(t)

	out, err := c.Compose(Fragments{
		Base:        "from a",
		Environment: "From a",
		Instance:    "FROM a\ncopy ./s.sh /opt/",
	}, Mounts{"./s.sh": "x"})
	require.NoError(t, err)
	assert.Contains(t, out, "| base64 -d > /opt/s.sh")
	assert.NotContains(t, out, "copy ")
}
