package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ClickHouseBackend", func() {
	It("should reject a malformed dsn", func() {
		backend, err := NewClickHouseBackend("clickhouse://[::1")

		Expect(err).To(MatchError(ContainSubstring("parsing clickhouse dsn")))
		Expect(backend).To(BeNil())
	})
})
