// Package app wires configuration, data loading, the classifier and the
// training session into the train and evaluate use cases run by the
// commands under cmd/.
package app
