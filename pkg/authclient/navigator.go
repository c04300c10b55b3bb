package authclient

// Navigator moves the user agent to another page.
type Navigator interface {
	Navigate(url string) error
}

// NavigatorFunc adapts a function to a Navigator.
type NavigatorFunc func(url string) error

func (f NavigatorFunc) Navigate(url string) error {
	return f(url)
}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) error { return nil }
