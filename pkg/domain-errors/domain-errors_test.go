package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite covers the error primitives every service boundary relies on:
// wrapped domain errors keep their original code and errors.Is matches by code.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorMessage() {
	s.Run("message wins over code", func() {
		err := &Error{Code: CodeInvalidToken, Message: "token expired"}
		s.Equal("token expired", err.Error())
	})

	s.Run("code used when message is empty", func() {
		err := &Error{Code: CodeKeyUnavailable}
		s.Equal("key_unavailable", err.Error())
	})
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	a := New(CodeRejected, "no location fix")
	b := New(CodeRejected, "photo cancelled")
	s.True(errors.Is(a, b))
	s.False(errors.Is(a, New(CodeConflict, "")))
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("plain error takes the given code", func() {
		root := errors.New("dial tcp: refused")
		err := Wrap(root, CodeUnavailable, "event store unavailable")
		s.True(HasCode(err, CodeUnavailable))
		s.ErrorIs(err, root)
	})

	s.Run("domain error keeps its original code", func() {
		inner := New(CodeKeyUnavailable, "vault locked")
		err := Wrap(inner, CodeInternal, "sign verification record")
		s.True(HasCode(err, CodeKeyUnavailable))
		s.Equal("sign verification record", err.Error())
	})

	s.Run("survives fmt wrapping", func() {
		err := fmt.Errorf("attempt failed: %w", New(CodeInvalidToken, "package mismatch"))
		s.True(HasCode(err, CodeInvalidToken))
		s.Equal(CodeInvalidToken, CodeOf(err))
	})
}

func (s *DomainErrorsSuite) TestCodeOfDefaultsToInternal() {
	s.Equal(CodeInternal, CodeOf(errors.New("boom")))
	s.Equal(CodeInternal, CodeOf(nil))
}

func (s *DomainErrorsSuite) TestCodeOfFallback() {
	s.Equal(CodeUnavailable, CodeOf(errors.New("dial"), CodeUnavailable))
	s.Equal(CodeForbidden, CodeOf(New(CodeForbidden, "not sender"), CodeUnavailable))
}
