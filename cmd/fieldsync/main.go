// fieldsync is the offline-first sync agent for field survey devices.
package main

func main() {
	Execute()
}
