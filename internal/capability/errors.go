package capability

import "fmt"

type plainError string

func (e plainError) Error() string { return string(e) }

func errString(msg string) error { return plainError(msg) }

func statusError(resp *providerResponse) error {
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(resp.Body))
}
